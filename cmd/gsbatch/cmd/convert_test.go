//go:build unix

package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gsraster/pkg/executor"
	"gsraster/pkg/models"
)

func TestDefaultResolutions(t *testing.T) {
	assert.Equal(t, []int{270, 300, 330, 360, 390, 420, 450, 480, 510}, defaultResolutions())
}

func TestConfiguredResolutions_FlagDefault(t *testing.T) {
	res, err := configuredResolutions()
	require.NoError(t, err)
	assert.Equal(t, defaultResolutions(), res)
}

func TestConfiguredResolutions_FromEnvironment(t *testing.T) {
	viper.SetEnvPrefix("GSRASTER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	t.Setenv("GSRASTER_RESOLUTIONS", "150, 300")

	res, err := configuredResolutions()
	require.NoError(t, err)
	assert.Equal(t, []int{150, 300}, res)
}

func TestConfiguredResolutions_FromConfigFile(t *testing.T) {
	viper.Set("resolutions", []interface{}{72, 96})
	t.Cleanup(func() { viper.Set("resolutions", nil) })

	res, err := configuredResolutions()
	require.NoError(t, err)
	assert.Equal(t, []int{72, 96}, res)
}

func TestConfiguredResolutions_Invalid(t *testing.T) {
	viper.Set("resolutions", "150,high")
	t.Cleanup(func() { viper.Set("resolutions", nil) })

	_, err := configuredResolutions()
	assert.Error(t, err)
}

func TestPlanJobs(t *testing.T) {
	jobs := planJobs([]string{"testfile.ps"}, "out/test%d.tiff", []int{270, 300})

	require.Len(t, jobs, 2)
	assert.Equal(t, batchJob{Inputs: []string{"testfile.ps"}, Output: "out/test1.tiff", Resolution: 270}, jobs[0])
	assert.Equal(t, batchJob{Inputs: []string{"testfile.ps"}, Output: "out/test2.tiff", Resolution: 300}, jobs[1])
}

func TestPlanJobs_InsertsNumber(t *testing.T) {
	jobs := planJobs([]string{"a.ps"}, "page.png", []int{100, 200})

	assert.Equal(t, "page1.png", jobs[0].Output)
	assert.Equal(t, "page2.png", jobs[1].Output)
}

func fakeGS(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gs")
	script := `#!/bin/sh
for a in "$@"; do
  case "$a" in
    -sOutputFile=*) out="${a#-sOutputFile=}";;
    -r*) res="${a#-r}";;
  esac
done
if [ "$res" = "999" ]; then echo "limitcheck" 1>&2; exit 1; fi
echo "rendered at $res"
: > "$out"
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestBatchRun_CollectsInOrder(t *testing.T) {
	dir := t.TempDir()
	tmpl := executor.DefaultRunnerConfig(fakeGS(t))
	tmpl.Logger = zap.NewNop()

	var out bytes.Buffer
	b := &batch{template: tmpl, parallel: 2, out: &out}

	jobs := planJobs([]string{"testfile.ps"}, filepath.Join(dir, "test%d.tiff"), []int{270, 300, 999, 360})
	outcomes := b.run(context.Background(), jobs)

	require.Len(t, outcomes, 4)
	for i, o := range outcomes {
		if i == 2 {
			assert.Equal(t, models.KindToolInvocationFailed, o.Kind)
			assert.Equal(t, 1, o.Code())
			continue
		}
		assert.True(t, o.IsSuccess(), "job %d: %s", i+1, o.ErrorDetail)
		assert.Equal(t, filepath.Join(dir, fmt.Sprintf("test%d.tiff", i+1)), o.ArtifactPath)
		assert.Contains(t, o.Output, fmt.Sprintf("rendered at %d", jobs[i].Resolution))
	}

	report := out.String()
	assert.Contains(t, report, "[1] OK ")
	assert.Contains(t, report, "[3] Error occurred (TOOL_INVOCATION_FAILED, code 1)")
	assert.Contains(t, report, "limitcheck")
	assert.Contains(t, report, "[4] OK ")
}

func TestBatchRun_RejectedSubmit(t *testing.T) {
	var out bytes.Buffer
	b := &batch{template: executor.RunnerConfig{}, parallel: 1, out: &out}

	outcomes := b.run(context.Background(), planJobs([]string{"a.ps"}, "x%d.tiff", []int{200}))

	require.Len(t, outcomes, 1)
	assert.Equal(t, models.KindUnexpectedFailure, outcomes[0].Kind)
	assert.Contains(t, out.String(), "[1] Error occurred")
}
