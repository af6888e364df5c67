package objective

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strconv"
)

// Environment handed to the training command.
const (
	EnvRunID       = "HPSEARCH_RUN_ID"
	EnvTrialNumber = "HPSEARCH_TRIAL_NUMBER"
	EnvStudy       = "HPSEARCH_STUDY"
	EnvParams      = "HPSEARCH_PARAMS"
	EnvReportAddr  = "HPSEARCH_REPORT_ADDR"
)

// errStopped is returned when the run was killed after a prune verdict.
var errStopped = errors.New("training stopped")

// #region command-trainer
// CommandTrainer runs an external training command per trial. The command
// learns its configuration from the environment and reports epochs and final
// metrics to Reports.
type CommandTrainer struct {
	Command []string
	Dir     string
	Env     []string
	Reports Reporter
}

// Train starts the command and waits for it. A prune verdict kills it.
func (c *CommandTrainer) Train(ctx context.Context, run Run, obs EpochObserver) (Metrics, error) {
	if len(c.Command) == 0 {
		return nil, errors.New("no training command configured")
	}
	params, err := json.Marshal(run.Params)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}

	sess := c.Reports.Open(run.RunID, obs)
	defer sess.Close()

	cmd := exec.CommandContext(ctx, c.Command[0], c.Command[1:]...)
	cmd.Dir = c.Dir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), c.Env...)
	cmd.Env = append(cmd.Env,
		EnvRunID+"="+run.RunID,
		EnvTrialNumber+"="+strconv.Itoa(run.Number),
		EnvStudy+"="+run.StudyName,
		EnvParams+"="+string(params),
		EnvReportAddr+"="+c.Reports.Addr(),
	)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start trainer: %w", err)
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err = <-done:
	case <-sess.Pruned():
		log.Printf("[TRIAL] %s #%d stopping trainer pid %d", run.StudyName, run.Number, cmd.Process.Pid)
		_ = cmd.Process.Kill()
		<-done
		return nil, errStopped
	}
	if err != nil {
		return nil, fmt.Errorf("trainer exited: %w", err)
	}

	final, ok := sess.Final()
	if !ok {
		return nil, errors.New("trainer exited without a final report")
	}
	return final, nil
}

// #endregion command-trainer
