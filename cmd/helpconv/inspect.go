package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"helpconv/internal/app"
	"helpconv/internal/conversation"
	"helpconv/internal/protocol"
)

func newInspectCmd(root *rootOptions) *cobra.Command {
	var (
		studentID string
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print the stored roster, or one student's conversations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := root.load(cmd)
			if err != nil {
				return err
			}
			loc, err := cfg.Location()
			if err != nil {
				return err
			}
			stores, err := app.OpenStores(cfg, log)
			if err != nil {
				return err
			}
			defer stores.Close()

			container := conversation.NewContainer(stores.Conversations, log)
			if err := container.Load(cmd.Context()); err != nil {
				return err
			}

			enc := protocol.NewEncoder(loc)
			out := cmd.OutOrStdout()
			if studentID == "" {
				roster := container.Roster()
				if asJSON {
					return writeJSON(out, enc.AllConvLists(roster))
				}
				return printRoster(out, roster)
			}

			var (
				convs   []conversation.ConversationSummary
				findErr error
			)
			container.Atomically(func(r *conversation.Reader) {
				convs, findErr = r.StudentConversations(studentID)
			})
			if findErr != nil {
				return fmt.Errorf("student %s: %w", studentID, findErr)
			}
			if asJSON {
				return writeJSON(out, enc.StuConvList(studentID, convs))
			}
			return printConversations(out, convs)
		},
	}
	cmd.Flags().StringVar(&studentID, "student", "", "show the conversations of one student")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the wire JSON instead of a table")
	return cmd
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printRoster(w io.Writer, roster []conversation.ListSummary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STUDENT\tNAME\tCONVERSATIONS\tUNDELETED\tUNREAD")
	for _, s := range roster {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\n",
			s.Student.StudentID, s.Student.ScreenName, s.NumConversations, s.NumUndeleted, s.NumUnreadByStaff)
	}
	return tw.Flush()
}

func printConversations(w io.Writer, convs []conversation.ConversationSummary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CONV\tSUBJECT\tMESSAGES\tUNDELETED\tUNREAD(STAFF)\tUNREAD(STUDENT)")
	for _, c := range convs {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%d\t%d\n",
			c.Number, c.Subject, c.NumMessages, c.NumUndeleted, c.NumUnreadByStaff, c.NumUnreadByStudent)
	}
	return tw.Flush()
}
