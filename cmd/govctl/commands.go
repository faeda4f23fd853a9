package main

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

// get returns a RunE that prints GET path.
func get(c *client, path func(args []string) string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		data, err := c.do(http.MethodGet, path(args), nil)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), data)
	}
}

func fixed(p string) func([]string) string { return func([]string) string { return p } }

func send(cmd *cobra.Command, c *client, method, path string, body any) error {
	data, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), data)
}

func healthCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check daemon health",
		Long: `Check the govd health flags. Exits non-zero when a flag is raised.

Examples:
  govctl health
  govctl health --server http://gov.internal:9470`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := c.do(http.MethodGet, "/health", nil)
			if err != nil && !isStatus(err, http.StatusServiceUnavailable) {
				return err
			}
			if perr := printJSON(cmd.OutOrStdout(), data); perr != nil {
				return perr
			}
			return err
		},
	}
}

func statusCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show phase, drift, versions and safety score",
		Args:  cobra.NoArgs,
		RunE:  get(c, fixed("/api/v1/status")),
	}
}

func auditCmd(c *client) *cobra.Command {
	var since uint64
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List retained decisions",
		Args:  cobra.NoArgs,
		RunE: get(c, func([]string) string {
			return "/api/v1/audit?since=" + strconv.FormatUint(since, 10)
		}),
	}
	cmd.Flags().Uint64Var(&since, "since", 0, "first decision sequence number")
	return cmd
}

func previewCmd(c *client) *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Show the last cycles with their authorization outcomes",
		Args:  cobra.NoArgs,
		RunE: get(c, func([]string) string {
			return "/api/v1/preview?n=" + strconv.Itoa(n)
		}),
	}
	cmd.Flags().IntVarP(&n, "count", "n", 20, "number of cycles")
	return cmd
}

func authorizationsCmd(c *client) *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "authorizations",
		Short: "Show recent gate verdicts",
		Args:  cobra.NoArgs,
		RunE: get(c, func([]string) string {
			return "/api/v1/authorizations?n=" + strconv.Itoa(n)
		}),
	}
	cmd.Flags().IntVarP(&n, "count", "n", 50, "number of verdicts")
	return cmd
}

func reportCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Show the transparency report",
		Args:  cobra.NoArgs,
		RunE:  get(c, fixed("/api/v1/transparency")),
	}
}

func checklistCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "checklist",
		Short: "Evaluate the safety checklist",
		Args:  cobra.NoArgs,
		RunE:  get(c, fixed("/api/v1/checklist")),
	}
}

func incidentsCmd(c *client) *cobra.Command {
	var severity string
	cmd := &cobra.Command{
		Use:   "incidents",
		Short: "List incidents",
		Args:  cobra.NoArgs,
		RunE: get(c, func([]string) string {
			if severity == "" {
				return "/api/v1/incidents"
			}
			return "/api/v1/incidents?severity=" + url.QueryEscape(severity)
		}),
	}
	cmd.Flags().StringVar(&severity, "severity", "", "critical, error or warning")

	resolve := &cobra.Command{
		Use:   "resolve <id>",
		Short: "Mark an incident resolved",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return send(cmd, c, http.MethodPost, "/api/v1/incidents/"+url.PathEscape(args[0])+"/resolve", nil)
		},
	}
	cmd.AddCommand(resolve)
	return cmd
}

func approvalsCmd(c *client) *cobra.Command {
	var state string
	cmd := &cobra.Command{
		Use:   "approvals [id]",
		Short: "List escalations, or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: get(c, func(args []string) string {
			if len(args) == 1 {
				return "/api/v1/approvals/" + url.PathEscape(args[0])
			}
			return "/api/v1/approvals?state=" + url.QueryEscape(state)
		}),
	}
	cmd.Flags().StringVar(&state, "state", "pending", "pending, approved, rejected, expired, or empty for all")
	return cmd
}

func approveCmd(c *client) *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve an escalated decision",
		Long: `Approve an escalation. The highest-priority candidate runs as a manual
command, still subject to the current phase.

Examples:
  govctl approve 3f6c2a4e-... --note "memory pressure confirmed"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return send(cmd, c, http.MethodPost, "/api/v1/approve/"+url.PathEscape(args[0]), map[string]string{"note": note})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "operator note")
	return cmd
}

func rejectCmd(c *client) *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "reject <id>",
		Short: "Reject an escalated decision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return send(cmd, c, http.MethodPost, "/api/v1/reject/"+url.PathEscape(args[0]), map[string]string{"note": note})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "operator note")
	return cmd
}

func phaseCmd(c *client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "phase",
		Short: "Inspect and move deployment phases",
	}

	var reason string
	set := &cobra.Command{
		Use:   "set <A|B|C|D>",
		Short: "Move to a phase",
		Long: `Move to a phase by operator request. D halts all autonomy.

Examples:
  govctl phase set B --reason "48h in learning reviewed"
  govctl phase set emergency --reason "incident 42"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return send(cmd, c, http.MethodPost, "/api/v1/phase", map[string]string{"phase": args[0], "reason": reason})
		},
	}
	set.Flags().StringVar(&reason, "reason", "", "recorded with the transition")

	history := &cobra.Command{
		Use:   "history",
		Short: "List phase transitions",
		Args:  cobra.NoArgs,
		RunE:  get(c, fixed("/api/v1/history")),
	}

	var advance, rollback bool
	auto := &cobra.Command{
		Use:   "auto",
		Short: "Toggle automatic advance and rollback",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return send(cmd, c, http.MethodPost, "/api/v1/phase/auto", map[string]bool{"advance": advance, "rollback": rollback})
		},
	}
	auto.Flags().BoolVar(&advance, "advance", true, "advance when criteria are met")
	auto.Flags().BoolVar(&rollback, "rollback", true, "roll back on low success or critical drift")

	cmd.AddCommand(set, history, auto)
	return cmd
}

func queryModeCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:       "query-mode <on|off>",
		Short:     "Authorize decisions without executing them",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var on bool
			switch args[0] {
			case "on":
				on = true
			case "off":
			default:
				return fmt.Errorf("expected on or off, got %q", args[0])
			}
			return send(cmd, c, http.MethodPost, "/api/v1/query-mode", map[string]bool{"enabled": on})
		},
	}
}

func cycleCmd(c *client) *cobra.Command {
	var metrics map[string]float64
	cmd := &cobra.Command{
		Use:   "cycle",
		Short: "Run one decision cycle now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return send(cmd, c, http.MethodPost, "/api/v1/cycle", map[string]any{"metrics": metrics})
		},
	}
	cmd.Flags().StringToFloat64Var(&metrics, "metric", nil, "snapshot values, e.g. --metric mem.free=0.2")
	return cmd
}

func recommendCmd(c *client) *cobra.Command {
	var (
		param       int
		confidence  int
		explanation string
	)
	cmd := &cobra.Command{
		Use:   "recommend <agent> <action>",
		Short: "Post a recommendation to an agent mailbox",
		Long: `Post a recommendation for the next cycle.

Examples:
  govctl recommend crash_predictor preventive_compaction --confidence 850
  govctl recommend transformer_scheduler scale_scheduling_weight --param 120 --confidence 600`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{
				"agent":       args[0],
				"action":      map[string]any{"kind": args[1], "param": param},
				"confidence":  confidence,
				"explanation": explanation,
			}
			return send(cmd, c, http.MethodPost, "/api/v1/recommendations", body)
		},
	}
	cmd.Flags().IntVar(&param, "param", 0, "action parameter")
	cmd.Flags().IntVar(&confidence, "confidence", 500, "confidence in [0, 1000]")
	cmd.Flags().StringVar(&explanation, "explain", "", "free-text explanation")
	return cmd
}

func observeCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "observe <true|false>...",
		Short: "Record prediction outcomes for drift detection",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outcomes := make([]bool, 0, len(args))
			for _, a := range args {
				ok, err := strconv.ParseBool(a)
				if err != nil {
					return fmt.Errorf("outcome %q: %w", a, err)
				}
				outcomes = append(outcomes, ok)
			}
			return send(cmd, c, http.MethodPost, "/api/v1/observations", map[string]any{"outcomes": outcomes})
		},
	}
}

func driftCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "drift",
		Short: "Show drift state",
		Args:  cobra.NoArgs,
		RunE:  get(c, fixed("/api/v1/drift")),
	}
}

func retrainCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "retrain",
		Short: "Re-issue a retrain request while drift is critical",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return send(cmd, c, http.MethodPost, "/api/v1/retrain", nil)
		},
	}
}

func versionsCmd(c *client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "versions",
		Short: "Manage adapter versions",
		Args:  cobra.NoArgs,
		RunE:  get(c, fixed("/api/v1/versions")),
	}

	history := &cobra.Command{
		Use:   "history",
		Short: "Show the lineage from the root to HEAD",
		Args:  cobra.NoArgs,
		RunE:  get(c, fixed("/api/v1/versions/history")),
	}
	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one version",
		Args:  cobra.ExactArgs(1),
		RunE:  get(c, func(args []string) string { return "/api/v1/versions/" + url.PathEscape(args[0]) }),
	}
	diff := &cobra.Command{
		Use:   "diff <a> <b>",
		Short: "Compare two versions",
		Args:  cobra.ExactArgs(2),
		RunE: get(c, func(args []string) string {
			return "/api/v1/versions/diff?a=" + url.QueryEscape(args[0]) + "&b=" + url.QueryEscape(args[1])
		}),
	}

	var accuracy, loss float64
	var examples int
	commit := &cobra.Command{
		Use:   "commit <artifact-file>",
		Short: "Commit an artifact as the new HEAD",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			artifact, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read file %s: %w", args[0], err)
			}
			body := map[string]any{
				"artifact": artifact,
				"metadata": map[string]any{"accuracy": accuracy, "loss": loss, "examples": examples},
			}
			return send(cmd, c, http.MethodPost, "/api/v1/versions", body)
		},
	}
	commit.Flags().Float64Var(&accuracy, "accuracy", 0, "measured accuracy in [0, 1]")
	commit.Flags().Float64Var(&loss, "loss", 0, "final training loss")
	commit.Flags().IntVar(&examples, "examples", 0, "training examples")

	tag := &cobra.Command{
		Use:   "tag <id> <label>",
		Short: "Label a version; tagged versions survive gc",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("version id %q: %w", args[0], err)
			}
			return send(cmd, c, http.MethodPost, "/api/v1/versions/tag", map[string]any{"id": id, "label": args[1]})
		},
	}
	untag := &cobra.Command{
		Use:   "untag <label>",
		Short: "Remove a label",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return send(cmd, c, http.MethodDelete, "/api/v1/versions/tag/"+url.PathEscape(args[0]), nil)
		},
	}
	rollback := &cobra.Command{
		Use:   "rollback <id>",
		Short: "Move HEAD to an earlier version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("version id %q: %w", args[0], err)
			}
			return send(cmd, c, http.MethodPost, "/api/v1/versions/rollback", map[string]any{"id": id})
		},
	}

	var keepLast int
	var before uint64
	gc := &cobra.Command{
		Use:   "gc",
		Short: "Collect unprotected versions",
		Long: `Collect unprotected versions. HEAD, the root, tagged versions and their
ancestors are always kept.

Examples:
  govctl versions gc --keep-last 10
  govctl versions gc --before 40`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return send(cmd, c, http.MethodPost, "/api/v1/versions/gc", map[string]any{"keep_last": keepLast, "before": before})
		},
	}
	gc.Flags().IntVar(&keepLast, "keep-last", 10, "newest versions to keep")
	gc.Flags().Uint64Var(&before, "before", 0, "collect below this id instead")

	cmd.AddCommand(history, show, diff, commit, tag, untag, rollback, gc)
	return cmd
}
