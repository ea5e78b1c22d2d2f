package cli

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lazypower/wind/internal/engine"
	"github.com/lazypower/wind/internal/store"
	"github.com/lazypower/wind/internal/transcript"
)

// withEngine opens the database and engine for a one-shot command.
func withEngine(fn func(ctx context.Context, e *engine.Engine) error) error {
	ctx := context.Background()
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	e, kill, err := newEngine(ctx, db)
	if err != nil {
		return err
	}
	if err := kill.Start(ctx); err != nil {
		return fmt.Errorf("kill switch: %w", err)
	}
	defer kill.Stop()
	return fn(ctx, e)
}

// --- tick ---

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run one tick now",
	Long:  "Evaluate every eligible conversation once at the current time and print the decisions.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(ctx context.Context, e *engine.Engine) error {
			report, err := e.Tick(ctx, e.Clock.Now())
			if err != nil {
				return err
			}
			renderReport(cmd.OutOrStdout(), report)
			return nil
		})
	},
}

// --- topics ---

var topicsAll bool

var topicsCmd = &cobra.Command{
	Use:   "topics <conversation>",
	Short: "List a conversation's topics",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		var topics []store.Topic
		if topicsAll {
			topics, err = db.ListTopics(args[0])
		} else {
			topics, err = db.ListLiveTopics(args[0])
		}
		if err != nil {
			return fmt.Errorf("list topics: %w", err)
		}
		sort.SliceStable(topics, func(i, j int) bool {
			return topics[i].DynamicPriority > topics[j].DynamicPriority
		})
		renderTopics(cmd.OutOrStdout(), args[0], topics)
		return nil
	},
}

// --- submit ---

var (
	submitType     string
	submitFamily   string
	submitContent  string
	submitKey      string
	submitPriority float64
	submitTTL      time.Duration
)

var submitCmd = &cobra.Command{
	Use:   "submit <conversation> <title...>",
	Short: "Submit a topic through the ingestion path",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(ctx context.Context, e *engine.Engine) error {
			in := engine.TopicInput{
				ConversationID: args[0],
				Type:           store.TopicType(submitType),
				Family:         submitFamily,
				Title:          strings.Join(args[1:], " "),
				Content:        submitContent,
				Source:         "cli",
				NoveltyKey:     submitKey,
				Priority:       submitPriority,
			}
			if submitTTL > 0 {
				in.ExpiresAt = e.Clock.Now().Add(submitTTL)
			}
			t, err := e.SubmitTopic(ctx, in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s, key=%s)\n", t.ID, t.Title, t.Status, t.NoveltyKey)
			return nil
		})
	},
}

// --- snooze ---

var snoozeCmd = &cobra.Command{
	Use:   "snooze <conversation> <duration>",
	Short: "Hold proactive messages for a while; a duration of 0 lifts the snooze",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := time.ParseDuration(args[1])
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", args[1], err)
		}
		return withEngine(func(ctx context.Context, e *engine.Engine) error {
			var until time.Time
			if d > 0 {
				until = e.Clock.Now().Add(d)
			}
			if err := e.SnoozeConversation(ctx, args[0], until); err != nil {
				return err
			}
			if until.IsZero() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: snooze lifted\n", args[0])
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: snoozed until %s\n", args[0], until.Format(time.RFC3339))
			}
			return nil
		})
	},
}

// --- dismiss / ack ---

var dismissCmd = &cobra.Command{
	Use:   "dismiss <topic-id>",
	Short: "Retire a topic for good",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(ctx context.Context, e *engine.Engine) error {
			t, err := e.DismissTopic(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", t.ID, t.Status)
			return nil
		})
	},
}

var ackCmd = &cobra.Command{
	Use:   "ack <topic-id>",
	Short: "Mark a topic as already mentioned",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(ctx context.Context, e *engine.Engine) error {
			t, err := e.AcknowledgeTopic(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", t.ID, t.Status)
			return nil
		})
	},
}

// --- archive ---

var archiveCmd = &cobra.Command{
	Use:   "archive <conversation>",
	Short: "Archive low-priority pending topics now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(ctx context.Context, e *engine.Engine) error {
			n, err := e.ArchiveStaleTopics(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: archived %d topics\n", args[0], n)
			return nil
		})
	},
}

// --- mine ---

var mineCmd = &cobra.Command{
	Use:   "mine <conversation>",
	Short: "Extract tension and discovery topics from the recent transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(ctx context.Context, e *engine.Engine) error {
			topics, err := e.MineTopics(ctx, args[0])
			if err != nil {
				return err
			}
			if len(topics) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No new topics.")
				return nil
			}
			for _, t := range topics {
				fmt.Fprintf(cmd.OutOrStdout(), "%s [%s] %s\n", t.ID, t.Type, t.Title)
			}
			return nil
		})
	},
}

// --- import ---

var importCmd = &cobra.Command{
	Use:   "import <conversation> <file.jsonl>",
	Short: "Load a JSONL chat history into a conversation",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := transcript.ParseFile(args[1])
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "transcript is empty")
			return nil
		}
		return withEngine(func(ctx context.Context, e *engine.Engine) error {
			msgs := transcript.ToMessages(args[0], entries, e.Clock.Now())
			n, err := e.ImportMessages(ctx, args[0], msgs)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: imported %d messages (%d from the user)\n",
				args[0], n, transcript.CountUserMessages(entries))
			return nil
		})
	},
}

// --- status / kill (talk to the running server) ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the running server's health",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c := NewClient()
		var health struct {
			Version    string              `json:"version"`
			Uptime     float64             `json:"uptime"`
			DBPath     string              `json:"db_path"`
			Wind       bool                `json:"wind"`
			KillSwitch bool                `json:"kill_switch"`
			Guard      engine.HealthStatus `json:"guard"`
		}
		if err := c.Get("/api/health", &health); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, headStyle.Render("wind "+health.Version))
		fmt.Fprintf(out, "  uptime       %s\n", (time.Duration(health.Uptime) * time.Second).String())
		fmt.Fprintf(out, "  db           %s\n", health.DBPath)
		fmt.Fprintf(out, "  enabled      %v\n", health.Wind)
		fmt.Fprintf(out, "  kill switch  %v\n", health.KillSwitch)
		if health.Guard.Degraded {
			fmt.Fprintf(out, "  health       %s\n", errorStyle.Render("degraded: "+health.Guard.Reason))
		} else {
			fmt.Fprintf(out, "  health       %s\n", sendStyle.Render("ok"))
		}
		return nil
	},
}

var killCmd = &cobra.Command{
	Use:       "kill <on|off>",
	Short:     "Engage or release the running server's kill switch",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"on", "off"},
	RunE: func(cmd *cobra.Command, args []string) error {
		var engaged bool
		switch args[0] {
		case "on":
			engaged = true
		case "off":
		default:
			return fmt.Errorf("expected on or off, got %q", args[0])
		}

		c := NewClient()
		if !c.Healthy() {
			return fmt.Errorf("wind server is not reachable; touch %q to stop sends without it", cfg.Wind.KillSwitchPath)
		}
		var resp struct {
			Engaged bool `json:"engaged"`
		}
		if err := c.Put("/api/killswitch", map[string]bool{"engaged": engaged}, &resp); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "kill switch engaged: %v\n", resp.Engaged)
		return nil
	},
}

func init() {
	topicsCmd.Flags().BoolVarP(&topicsAll, "all", "a", false, "include closed topics")

	submitCmd.Flags().StringVarP(&submitType, "type", "t", "wind", "topic type: wind, reminder, critical, tension, discovery")
	submitCmd.Flags().StringVar(&submitFamily, "family", "", "affinity family shared with related topics (defaults to the novelty key)")
	submitCmd.Flags().StringVar(&submitContent, "content", "", "supporting context for the draft")
	submitCmd.Flags().StringVar(&submitKey, "key", "", "novelty key (defaults to the title)")
	submitCmd.Flags().Float64VarP(&submitPriority, "priority", "p", 50, "base priority")
	submitCmd.Flags().DurationVar(&submitTTL, "ttl", 0, "expire the topic after this long")
}
