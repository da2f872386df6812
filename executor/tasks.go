package executor

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"time"

	"github.com/saiset-co/sai-scheduler/types"
)

// Task is one runnable payload. Implementations write their output to the
// supplied writer and honor the run context for cancellation.
type Task interface {
	Type() string
	Run(ctx context.Context, job types.Job, out io.Writer) error
}

// TaskSet resolves the task for a job: a per-job-name override when one is
// configured, the default task otherwise.
type TaskSet struct {
	defaultTask Task
	overrides   map[string]Task
}

func NewTaskSet(config types.ConfigManager, client types.ClientManager) (*TaskSet, error) {
	executorConfig := config.GetConfig().Executor

	defaultConfig := &types.TaskConfig{Type: "echo"}
	if executorConfig != nil && executorConfig.Task != nil {
		defaultConfig = executorConfig.Task
	}

	defaultTask, err := buildTask(defaultConfig, client)
	if err != nil {
		return nil, types.WrapError(err, "failed to build default task")
	}

	overrides := make(map[string]Task)
	if executorConfig != nil {
		for jobName, taskConfig := range executorConfig.Tasks {
			cfg := taskConfig
			task, err := buildTask(&cfg, client)
			if err != nil {
				return nil, types.Errorf(types.ErrTaskTypeUnknown, "job %q: %v", jobName, err)
			}
			overrides[jobName] = task
		}
	}

	return &TaskSet{
		defaultTask: defaultTask,
		overrides:   overrides,
	}, nil
}

func (ts *TaskSet) Resolve(jobName string) Task {
	if task, exists := ts.overrides[jobName]; exists {
		return task
	}
	return ts.defaultTask
}

func buildTask(config *types.TaskConfig, client types.ClientManager) (Task, error) {
	switch config.Type {
	case "", "echo":
		return &echoTask{}, nil
	case "command":
		if config.Command == "" {
			return nil, types.ErrTaskCommandIsEmpty
		}
		return &commandTask{command: config.Command}, nil
	case "webhook":
		if config.Service == "" {
			return nil, types.ErrTaskWebhookURLIsEmpty
		}
		return &webhookTask{
			client:  client,
			service: config.Service,
			path:    config.Path,
		}, nil
	default:
		return nil, types.Errorf(types.ErrTaskTypeUnknown, "type: %s", config.Type)
	}
}

type echoTask struct{}

func (t *echoTask) Type() string { return "echo" }

func (t *echoTask) Run(ctx context.Context, job types.Job, out io.Writer) error {
	_, err := fmt.Fprintf(out, "Hello World from job %q\n", job.Name)
	return err
}

type commandTask struct {
	command string
}

func (t *commandTask) Type() string { return "command" }

func (t *commandTask) Run(ctx context.Context, job types.Job, out io.Writer) error {
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", t.command)
	cmd.Stdout = out
	cmd.Stderr = out

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return types.WrapError(err, "command failed")
	}
	return nil
}

type webhookTask struct {
	client  types.ClientManager
	service string
	path    string
}

func (t *webhookTask) Type() string { return "webhook" }

func (t *webhookTask) Run(ctx context.Context, job types.Job, out io.Writer) error {
	if t.client == nil {
		return types.ErrClientNotInitialized
	}

	payload := map[string]interface{}{
		"job_id":   job.ID,
		"job_name": job.Name,
	}

	opts := &types.CallOptions{
		Headers: make(map[string]string),
	}
	if deadline, ok := ctx.Deadline(); ok {
		opts.Timeout = time.Until(deadline)
	}

	body, statusCode, err := t.client.Call(t.service, "POST", t.path, payload, opts)
	if err != nil {
		return types.WrapError(err, "webhook call failed")
	}

	if len(body) > 0 {
		if _, err := out.Write(body); err != nil {
			return err
		}
	}

	if statusCode < 200 || statusCode >= 300 {
		return types.Errorf(types.ErrClientResponseInvalid, "webhook returned HTTP %d", statusCode)
	}

	return nil
}
