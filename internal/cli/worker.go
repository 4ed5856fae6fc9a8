package cli

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/ahrav/go-sweep/internal/activity"
	"github.com/ahrav/go-sweep/internal/domain"
	"github.com/ahrav/go-sweep/internal/worker"
	"github.com/ahrav/go-sweep/internal/workflow"
	"github.com/ahrav/go-sweep/pkg/events"
)

// Event sink kinds accepted by --events.
const (
	sinkNone  = "none"
	sinkLog   = "log"
	sinkRedis = "redis"
)

func newWorkerCommand(configPath func() string) *cobra.Command {
	var (
		sinkKind string
		stream   string
	)

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run a Temporal worker executing experiment workflows",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, configPath(), cmd.ErrOrStderr(), appOptions{needsProvider: true})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			sink, closeSink, err := a.eventSink(sinkKind, stream)
			if err != nil {
				return err
			}
			defer closeSink()

			c, err := worker.Dial(a.cfg.Temporal, a.logger)
			if err != nil {
				return err
			}
			defer c.Close()

			a.logger.Info("worker started",
				"task_queue", a.cfg.Temporal.TaskQueue,
				"events", sinkKind)
			return worker.Run(ctx, c, a.cfg.Temporal.TaskQueue, activity.NewActivities(a.svc, sink))
		},
	}
	cmd.Flags().StringVar(&sinkKind, "events", sinkLog, "progress event sink: none, log or redis")
	cmd.Flags().StringVar(&stream, "stream", "sweep:events", "redis stream for --events=redis")
	return cmd
}

// eventSink builds the sink named by kind. The returned func releases it.
func (a *app) eventSink(kind, stream string) (events.EventSink, func(), error) {
	switch kind {
	case sinkNone:
		return nil, func() {}, nil
	case sinkLog, "":
		return events.NewLogSink(a.logger), func() {}, nil
	case sinkRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     a.cfg.Store.Redis.Addr,
			Password: a.cfg.Store.Redis.Password,
			DB:       a.cfg.Store.Redis.DB,
		})
		return events.NewRedisStreamSink(client, stream), func() { _ = client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown event sink %q", kind)
	}
}

func newSubmitCommand(configPath func() string) *cobra.Command {
	var (
		flags sweepFlags
		wait  bool
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Create an experiment and run it as a Temporal workflow",
		Long: `submit validates the request, creates the experiment in the configured store
and starts its workflow. Workers must share the same store.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := flags.request()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, configPath(), cmd.ErrOrStderr(), appOptions{})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			exp, tasks, err := a.svc.Prepare(ctx, req)
			if err != nil {
				return err
			}

			c, err := worker.Dial(a.cfg.Temporal, a.logger)
			if err != nil {
				return err
			}
			defer c.Close()

			run, err := worker.Submit(ctx, c, a.cfg.Temporal.TaskQueue, exp, tasks, a.svc.Options().MaxConcurrentCalls)
			if err != nil {
				if markErr := a.svc.MarkFailed(ctx, exp.ID, err.Error()); markErr != nil {
					a.logger.Error("failed to mark experiment failed", "experiment_id", exp.ID, "error", markErr)
				}
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "experiment %s submitted (workflow %s, run %s)\n", exp.ID, run.GetID(), run.GetRunID())
			if !wait {
				return nil
			}

			var result workflow.ExperimentOutput
			if err := run.Get(ctx, &result); err != nil {
				return fmt.Errorf("experiment %s failed: %w", exp.ID, err)
			}
			fmt.Fprintln(out, domain.NewCompleteEvent(result.Complete).Message)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&wait, "wait", false, "wait for the workflow to finish")
	return cmd
}
