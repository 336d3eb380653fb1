package cli

import (
	"bytes"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

type operationView struct {
	Seq         int64     `json:"seq"`
	OperationId string    `json:"operationId"`
	Type        string    `json:"type"`
	ChildId     string    `json:"childId"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
	Attempts    int       `json:"attempts"`
	LastError   string    `json:"lastError,omitempty"`
}

func NewPendingCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "pending",
		Short:         "List the changes waiting to be sent to the server",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, opts)
			if err != nil {
				return err
			}
			defer s.Close()

			ops, err := s.cache.PendingOperations(nil)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read the queue", err)
			}

			views := []operationView{}
			text := &bytes.Buffer{}
			w := tabwriter.NewWriter(text, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SEQ\tTYPE\tCHILD\tDESCRIPTION\tQUEUED AT\tATTEMPTS\tLAST ERROR")
			for _, op := range ops {
				views = append(views, operationView{
					Seq:         op.Seq,
					OperationId: op.OperationId,
					Type:        op.Type,
					ChildId:     op.ChildId,
					Description: op.Description,
					CreatedAt:   op.CreatedAt,
					Attempts:    op.Attempts,
					LastError:   op.LastError,
				})
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\t%s\n", op.Seq, op.Type, op.ChildId, op.Description,
					op.CreatedAt.Local().Format("15:04:05"), op.Attempts, op.LastError)
			}
			w.Flush()

			if len(ops) == 0 {
				return s.out.print("EMPTY", views, "nothing queued")
			}
			return s.out.print("QUEUED", views, text.String())
		},
	}
}
