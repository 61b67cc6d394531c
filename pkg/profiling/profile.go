package profiling

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/pprof"
	"runtime/trace"
	"time"
)

// EnableProfiling captures CPU, heap and execution traces into dir and stops
// after stopTime.
func EnableProfiling(dir string, stopTime time.Duration) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create profiling directory: %w", err)
	}

	cf, err := os.Create(filepath.Join(dir, "cpu.prof"))
	if err != nil {
		return fmt.Errorf("failed to start CPU profiling: %w", err)
	}
	if err := pprof.StartCPUProfile(cf); err != nil {
		cf.Close()
		return fmt.Errorf("failed to start CPU profiling: %w", err)
	}

	tc, err := os.Create(filepath.Join(dir, "trace.prof"))
	if err != nil {
		pprof.StopCPUProfile()
		cf.Close()
		return fmt.Errorf("failed to start trace profiling: %w", err)
	}
	if err := trace.Start(tc); err != nil {
		slog.Error("failed to start trace profiling", "error", err)
	}

	slog.Info("profiling enabled", "dir", dir, "duration", stopTime)

	go func() {
		<-time.After(stopTime)
		pprof.StopCPUProfile()
		trace.Stop()
		cf.Close()
		tc.Close()

		mf, err := os.Create(filepath.Join(dir, "memory.prof"))
		if err != nil {
			slog.Error("failed to write memory profile", "error", err)
			return
		}
		defer mf.Close()
		if err := pprof.WriteHeapProfile(mf); err != nil {
			slog.Error("failed to write memory profile", "error", err)
		}
		slog.Info("finished the profiling")
	}()

	return nil
}
