package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/docchat/internal/client"
	"github.com/dharsanguruparan/docchat/internal/tui"
)

const pollInterval = 500 * time.Millisecond

func newRootCommand() *cobra.Command {
	var baseURL string
	cmd := &cobra.Command{
		Use:   "docchat",
		Short: "Chat with your documents",
		Long: `docchat talks to a DocChat server. Upload a PDF or text file, wait for it
to be indexed, then ask questions about it one by one or in an interactive chat.

The server address comes from --server, then DOCCHAT_BASE_URL, then
http://localhost:8000.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&baseURL, "server", "s", "", "DocChat server base URL")
	newClient := func() *client.Client { return client.New(baseURL) }
	cmd.AddCommand(
		newUploadCmd(newClient),
		newSessionCmd(newClient),
		newAskCmd(newClient),
		newStatusCmd(newClient),
		newHistoryCmd(newClient),
		newLinkCmd(newClient),
		newChatCmd(newClient),
	)
	return cmd
}

func newUploadCmd(newClient func() *client.Client) *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "upload FILE",
		Short: "Upload a document for indexing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			up, err := c.UploadFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", up.DocumentID, up.Filename, up.Status)
			if !wait {
				return nil
			}
			doc, err := c.WaitReady(cmd.Context(), up.DocumentID, pollInterval)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d chunks\n", doc.ID, doc.Status, doc.ChunkCount)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Wait until the document is ready")
	return cmd
}

func newSessionCmd(newClient func() *client.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "session DOC_ID",
		Short: "Open a new chat session about a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := newClient().StartSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
}

func newAskCmd(newClient func() *client.Client) *cobra.Command {
	var sessionID, documentID string
	var debug bool
	cmd := &cobra.Command{
		Use:   "ask QUESTION...",
		Short: "Ask one question within a session or about a document",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.Join(args, " ")
			c := newClient()
			var ans client.Answer
			var err error
			if sessionID != "" {
				ans, err = c.Ask(cmd.Context(), sessionID, question)
			} else {
				ans, err = c.AskDocument(cmd.Context(), documentID, question)
			}
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, ans.Answer)
			if debug {
				return writeJSON(out, ans.Debug)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "Session to ask in (history is recorded)")
	cmd.Flags().StringVar(&documentID, "doc", "", "Document to ask about without a session")
	cmd.Flags().BoolVar(&debug, "debug", false, "Print retrieval details")
	return cmd
}

func newStatusCmd(newClient func() *client.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List documents and sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := newClient().Status(cmd.Context())
			if err != nil {
				return err
			}
			ids := make([]string, 0, len(st.Docs))
			for id := range st.Docs {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "DOCUMENT\tFILENAME\tSTATUS\tCHUNKS")
			for _, id := range ids {
				d := st.Docs[id]
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", id, d.Filename, d.Status, d.ChunkCount)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d session(s)\n", len(st.Sessions))
			return nil
		},
	}
}

func newHistoryCmd(newClient func() *client.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "history SESSION_ID",
		Short: "Print the conversation of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newClient().Session(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, h := range s.History {
				fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s: %s\n", h.At.Format(time.RFC3339), h.Role, h.Text)
			}
			return nil
		},
	}
}

func newLinkCmd(newClient func() *client.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "link DOC_ID",
		Short: "Print a short-lived download link for the original upload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			link, err := newClient().FileURL(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n(expires %s)\n", link.URL, link.Expires.Local().Format(time.Kitchen))
			return nil
		},
	}
}

// newChatCmd uploads a file (or reuses --doc), waits for it to be ready,
// opens a session and hands the terminal to the chat screen.
func newChatCmd(newClient func() *client.Client) *cobra.Command {
	var documentID string
	cmd := &cobra.Command{
		Use:   "chat [FILE]",
		Short: "Upload a file and chat about it interactively",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c := newClient()
			out := cmd.OutOrStdout()
			switch {
			case len(args) == 1:
				up, err := c.UploadFile(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Uploaded %s as %s, indexing...\n", up.Filename, up.DocumentID)
				documentID = up.DocumentID
			case documentID == "":
				return fmt.Errorf("pass a FILE to upload or --doc with an existing document id")
			}
			doc, err := c.WaitReady(ctx, documentID, pollInterval)
			if err != nil {
				return err
			}
			sessionID, err := c.StartSession(ctx, doc.ID)
			if err != nil {
				return err
			}
			model := tui.New(ctx, c, sessionID, doc.Filename)
			_, err = tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
			return err
		},
	}
	cmd.Flags().StringVar(&documentID, "doc", "", "Chat about an already uploaded document")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
