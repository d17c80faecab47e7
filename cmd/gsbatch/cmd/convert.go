package cmd

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	config "gsraster/configs"
	"gsraster/pkg/executor"
	"gsraster/pkg/ghostscript"
	"gsraster/pkg/models"
)

var convertCmd = &cobra.Command{
	Use:   "convert [flags] <input>...",
	Short: "Rasterize the inputs once per resolution",
	Long: `Start one job per resolution, each rendering all inputs into its own
output file, then wait for every job in submission order and print its result.

The output pattern takes one %d verb, replaced by the job number starting at 1.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		tool := viper.GetString("tool")
		if tool == "" {
			found, err := ghostscript.NewLocator(viper.GetStringSlice("candidates")...).Find(ctx)
			if err != nil {
				return err
			}
			tool = found
		}

		resolutions, err := configuredResolutions()
		if err != nil {
			return err
		}

		b := &batch{
			template: executor.DefaultRunnerConfig(tool),
			parallel: viper.GetInt("max-parallel"),
			out:      cmd.OutOrStdout(),
		}
		b.template.Device = viper.GetString("device")
		b.template.CollectTimeout = viper.GetDuration("timeout")

		jobs := planJobs(args, viper.GetString("output"), resolutions)
		outcomes := b.run(ctx, jobs)

		failed := 0
		for _, o := range outcomes {
			if !o.IsSuccess() {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d jobs failed", failed, len(outcomes))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(convertCmd)

	flags := convertCmd.Flags()
	flags.String("tool", "", "ghostscript executable (default: first candidate answering -v)")
	flags.StringSlice("candidates", ghostscript.DefaultCandidates, "executables to probe when --tool is not set")
	flags.String("device", ghostscript.DefaultDevice, "ghostscript output device")
	flags.IntSlice("resolutions", defaultResolutions(), "one job per resolution, in dpi")
	flags.StringP("output", "o", "test%d.tiff", "output path pattern, %d is the job number")
	flags.Int("max-parallel", config.DefaultConcurrency(), "jobs allowed to run at once")
	flags.Duration("timeout", 0, "give up on a job after this long (0 waits forever)")

	for _, name := range []string{"tool", "candidates", "device", "resolutions", "output", "max-parallel", "timeout"} {
		viper.BindPFlag(name, flags.Lookup(name))
	}
}

// defaultResolutions is 270, 300, ... 510 dpi.
func defaultResolutions() []int {
	res := make([]int, 0, 9)
	for i := 1; i <= 9; i++ {
		res = append(res, 240+i*30)
	}
	return res
}

// configuredResolutions reads the resolution list from the flag, the
// environment ("150,300") or the config file, in viper's usual precedence.
func configuredResolutions() ([]int, error) {
	raw := viper.Get("resolutions")
	if s, ok := raw.(string); ok {
		parts := strings.Split(strings.Trim(s, "[] "), ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		raw = parts
	}
	res, err := cast.ToIntSliceE(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid resolutions %v: %w", viper.Get("resolutions"), err)
	}
	if len(res) == 0 {
		return nil, fmt.Errorf("no resolutions configured")
	}
	return res, nil
}

type batchJob struct {
	Inputs     []string
	Output     string
	Resolution int
}

func planJobs(inputs []string, pattern string, resolutions []int) []batchJob {
	if !strings.Contains(pattern, "%d") {
		ext := filepath.Ext(pattern)
		pattern = strings.TrimSuffix(pattern, ext) + "%d" + ext
	}
	jobs := make([]batchJob, len(resolutions))
	for i, res := range resolutions {
		jobs[i] = batchJob{
			Inputs:     inputs,
			Output:     fmt.Sprintf(pattern, i+1),
			Resolution: res,
		}
	}
	return jobs
}

// batch fans jobs out over independent Runners and collects them in
// submission order. At most parallel jobs are outstanding at once.
type batch struct {
	template executor.RunnerConfig
	parallel int
	out      io.Writer
}

func (b *batch) run(ctx context.Context, jobs []batchJob) []models.Outcome {
	parallel := b.parallel
	if parallel < 1 {
		parallel = 1
	}

	runners := make([]*executor.Runner, len(jobs))
	outcomes := make([]models.Outcome, len(jobs))
	rejected := make([]error, len(jobs))

	submit := func(i int) {
		cfg := b.template
		cfg.Resolution = jobs[i].Resolution
		r, err := executor.NewRunner(cfg)
		if err == nil {
			_, err = r.Submit(ctx, jobs[i].Inputs, jobs[i].Output)
		}
		if err != nil {
			rejected[i] = err
			return
		}
		runners[i] = r
	}

	next := 0
	for ; next < len(jobs) && next < parallel; next++ {
		submit(next)
	}

	for i := range jobs {
		if rejected[i] != nil {
			outcomes[i] = models.FailedOutcome("", models.KindUnexpectedFailure, models.InternalErrorCode,
				"", rejected[i].Error(), time.Time{}, time.Time{})
		} else {
			// A collect error still comes with a well-formed outcome.
			outcomes[i], _ = runners[i].Collect(ctx)
		}
		b.report(i+1, jobs[i], outcomes[i])

		if next < len(jobs) {
			submit(next)
			next++
		}
	}
	return outcomes
}

func (b *batch) report(n int, job batchJob, o models.Outcome) {
	if o.IsSuccess() {
		fmt.Fprintf(b.out, "[%d] OK %s (%d dpi)\n", n, o.ArtifactPath, job.Resolution)
		fmt.Fprintf(b.out, "    time: %f\n", o.Elapsed().Seconds())
		fmt.Fprintf(b.out, "    msg : %s\n", strings.TrimSpace(o.Output))
		return
	}
	fmt.Fprintf(b.out, "[%d] Error occurred (%s, code %d)\n", n, o.Kind, o.Code())
	fmt.Fprintf(b.out, "    msg : %s\n", strings.TrimSpace(o.Output))
	fmt.Fprintf(b.out, "    emsg: %s\n", o.ErrorDetail)
}
