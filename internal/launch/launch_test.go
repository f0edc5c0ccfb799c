package launch

import (
	"bytes"
	"context"
	"log"
	"os"
	"reflect"
	"strings"
	"testing"
	"time"

	benchErrors "github.com/rasterbench/rasterbench/internal/errors"
)

func TestLauncher_Command(t *testing.T) {
	tests := []struct {
		name     string
		launcher Launcher
		want     []string
	}{
		{
			name:     "mpirun without hosts",
			launcher: NewMPILauncher("", "--allow-run-as-root"),
			want: []string{"mpirun", "--allow-run-as-root", "-np", "4",
				"./test_benchmark", "/o/run_plain.nc", "/o/run_region.nc", "TEMP"},
		},
		{
			name:     "host list goes before other flags",
			launcher: NewMPILauncher("hosts.txt", "--allow-run-as-root"),
			want: []string{"mpirun", "--hostfile", "hosts.txt", "--allow-run-as-root", "-np", "4",
				"./test_benchmark", "/o/run_plain.nc", "/o/run_region.nc", "TEMP"},
		},
		{
			name:     "direct execution",
			launcher: Launcher{},
			want:     []string{"./test_benchmark", "/o/run_plain.nc", "/o/run_region.nc", "TEMP"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := tt.launcher.Command(4, "./test_benchmark", "/o/run_plain.nc", "/o/run_region.nc", "TEMP")
			if got := cmd.Argv(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("argv = %v\nwant  %v", got, tt.want)
			}
		})
	}
}

func TestLauncher_CommandDoesNotAliasArgs(t *testing.T) {
	args := []string{"a", "b"}
	cmd := Launcher{}.Command(1, "exe", args...)
	cmd.Args[0] = "changed"
	if args[0] != "a" {
		t.Error("Command must copy its arguments")
	}
}

func TestCommand_String(t *testing.T) {
	cmd := Command{Path: "mpirun", Args: []string{"-np", "2", "./read", "/data/my file.nc", "it's", ""}}
	want := `mpirun -np 2 ./read '/data/my file.nc' 'it'\''s' ''`
	if got := cmd.String(); got != want {
		t.Errorf("String() = %s\nwant       %s", got, want)
	}
}

func TestExecRunner_CapturesStdoutOnly(t *testing.T) {
	r := NewExecRunner(0)
	cmd := Command{Path: "/bin/sh", Args: []string{"-c", "echo Time_netCDF_Read=0.5s; echo noise >&2"}}

	out, err := r.Run(context.Background(), cmd)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if strings.TrimSpace(out) != "Time_netCDF_Read=0.5s" {
		t.Errorf("out = %q", out)
	}
}

func TestExecRunner_NonZeroExitKeepsOutput(t *testing.T) {
	r := NewExecRunner(0)
	cmd := Command{Path: "/bin/sh", Args: []string{"-c", "echo partial; exit 3"}}

	out, err := r.Run(context.Background(), cmd)
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}
	if benchErrors.GetCode(err) != benchErrors.CodeNonZeroExit {
		t.Errorf("code = %q", benchErrors.GetCode(err))
	}
	if !benchErrors.IsRecoverable(err) {
		t.Error("launch errors should be recoverable")
	}
	if strings.TrimSpace(out) != "partial" {
		t.Errorf("partial output lost: %q", out)
	}
	be, _ := benchErrors.As(err)
	if !strings.Contains(be.Detail("command").(string), "exit 3") {
		t.Errorf("command line missing from error details: %v", be.Details)
	}
}

func TestExecRunner_StartFailure(t *testing.T) {
	r := NewExecRunner(0)
	_, err := r.Run(context.Background(), Command{Path: "/nonexistent/test_convert"})
	if benchErrors.GetCode(err) != benchErrors.CodeStartFailed {
		t.Errorf("code = %q, err = %v", benchErrors.GetCode(err), err)
	}
}

func TestExecRunner_Timeout(t *testing.T) {
	r := NewExecRunner(100 * time.Millisecond)
	start := time.Now()
	_, err := r.Run(context.Background(), Command{Path: "sleep", Args: []string{"10"}})
	if benchErrors.GetCode(err) != benchErrors.CodeLaunchTimeout {
		t.Errorf("code = %q, err = %v", benchErrors.GetCode(err), err)
	}
	if time.Since(start) > 8*time.Second {
		t.Error("timeout did not stop the process")
	}
}

func TestDryRunner(t *testing.T) {
	d := &DryRunner{Outputs: []string{"first"}}
	ctx := context.Background()

	out, err := d.Run(ctx, Command{Path: "a"})
	if err != nil || out != "first" {
		t.Errorf("first run = %q, %v", out, err)
	}
	out, err = d.Run(ctx, Command{Path: "b"})
	if err != nil || out != "" {
		t.Errorf("second run = %q, %v", out, err)
	}
	if len(d.Commands) != 2 || d.Commands[1].Path != "b" {
		t.Errorf("recorded %v", d.Commands)
	}
}

func TestExecRunner_EchoAndSingleLaunchLine(t *testing.T) {
	var logs bytes.Buffer
	log.SetOutput(&logs)
	defer log.SetOutput(os.Stderr)

	var echo bytes.Buffer
	r := NewExecRunner(0)
	r.Echo = &echo
	cmd := Command{Path: "/bin/sh", Args: []string{"-c", "echo Time_RASTER_Read=0.25s"}}

	out, err := r.Run(context.Background(), cmd)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if echo.String() != out || !strings.Contains(out, "Time_RASTER_Read=0.25s") {
		t.Errorf("echo = %q, out = %q", echo.String(), out)
	}
	if n := strings.Count(logs.String(), cmd.String()); n != 1 {
		t.Errorf("command line logged %d times, want once:\n%s", n, logs.String())
	}
}
