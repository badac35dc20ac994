// Package workerproc runs the current test binary as a worker process so
// supervisor and launcher tests exercise real OS processes.
//
// A test package opts in from TestMain:
//
//	func TestMain(m *testing.M) {
//		if workerproc.IsWorker() {
//			os.Exit(workerproc.Run())
//		}
//		os.Exit(m.Run())
//	}
package workerproc

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/jrepp/prism-modelpool/internal/logging"
	"github.com/jrepp/prism-modelpool/pkg/config"
	"github.com/jrepp/prism-modelpool/pkg/handoff"
	"github.com/jrepp/prism-modelpool/pkg/worker"
)

// EnvMode selects the helper behavior of a re-executed test binary.
const EnvMode = "MODELPOOL_TEST_WORKER_MODE"

// Helper modes.
const (
	// ModeServe runs the real worker entry point with the default gRPC server
	ModeServe = "serve"
	// ModeHang never reads its payload and waits for a signal
	ModeHang = "hang"
	// ModeExit accepts the payload and exits with the code after the colon (exit:7)
	ModeExit = "exit"
	// ModeStubborn accepts the payload and ignores SIGTERM
	ModeStubborn = "stubborn"
	// ModeFork starts a hanging child that shares its process group, accepts
	// the payload and on SIGTERM waits for the child before exiting
	ModeFork = "fork"
	// ModeProtocol prints a handoff protocol version (protocol:7), defaulting
	// to the current one, and exits
	ModeProtocol = "protocol"
)

// IsWorker reports whether this process was started as a helper worker.
func IsWorker() bool {
	return os.Getenv(EnvMode) != ""
}

// Run executes the helper behavior selected by EnvMode and returns the exit code.
func Run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	mode, arg, _ := strings.Cut(os.Getenv(EnvMode), ":")
	switch mode {
	case ModeHang:
		<-ctx.Done()
		return 0

	case ModeStubborn:
		signal.Ignore(syscall.SIGTERM)
		if code := accept(); code != 0 {
			return code
		}
		time.Sleep(time.Hour)
		return 0

	case ModeFork:
		child := exec.Command(os.Args[0], "-test.run=^$")
		child.Env = append(os.Environ(), EnvMode+"="+ModeHang)
		if err := child.Start(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return worker.ExitRuntime
		}
		if code := accept(); code != 0 {
			_ = child.Process.Kill()
			return code
		}
		<-ctx.Done()
		_ = child.Wait()
		return 0

	case ModeProtocol:
		if arg == "" {
			arg = strconv.Itoa(handoff.ProtocolVersion)
		}
		fmt.Println(arg)
		return 0

	case ModeExit:
		if code := accept(); code != 0 {
			return code
		}
		code, err := strconv.Atoi(arg)
		if err != nil {
			return worker.ExitRuntime
		}
		return code

	default:
		payload, ack, err := worker.HandoffFiles()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return worker.ExitHandoff
		}
		logger := logging.ForWorker("debug", true)
		defer logger.Sync()

		return worker.Main(ctx, worker.Options{
			PayloadReader: payload,
			AckWriter:     ack,
			Logger:        logger,
		})
	}
}

// accept reads and acknowledges the payload, returning a worker exit code on failure.
func accept() int {
	payload, ack, err := worker.HandoffFiles()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return worker.ExitHandoff
	}
	if _, err := handoff.Accept(payload, ack); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return worker.ExitHandoff
	}
	return 0
}

// Command re-executes the test binary as a worker. modes maps ordinals to a
// helper mode; ordinals not listed use fallback.
func Command(modes map[int]string, fallback string) func(ic config.InstanceConfig) *exec.Cmd {
	return func(ic config.InstanceConfig) *exec.Cmd {
		mode, ok := modes[ic.Identity.Ordinal]
		if !ok {
			mode = fallback
		}
		cmd := exec.Command(os.Args[0], "-test.run=^$")
		cmd.Env = append(os.Environ(), EnvMode+"="+mode)
		return cmd
	}
}

// FreePortRange returns a base port such that base..base+n-1 are all free
// on 127.0.0.1 at the time of the call.
func FreePortRange(t testing.TB, n int) int {
	t.Helper()

	for attempt := 0; attempt < 50; attempt++ {
		lis, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("failed to find free port: %v", err)
		}
		base := lis.Addr().(*net.TCPAddr).Port
		lis.Close()
		if base+n-1 > 65535 {
			continue
		}

		free := true
		for p := base; p < base+n; p++ {
			l, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(p)))
			if err != nil {
				free = false
				break
			}
			l.Close()
		}
		if free {
			return base
		}
	}
	t.Fatalf("no range of %d free ports found", n)
	return 0
}

// Occupy binds port on addr for the rest of the test.
func Occupy(t testing.TB, host string, port int) {
	t.Helper()
	lis, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		t.Fatalf("failed to occupy port %d: %v", port, err)
	}
	t.Cleanup(func() { lis.Close() })
}
