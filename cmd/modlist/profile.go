package main

import (
	"errors"
	"os"
	"runtime"
	"runtime/pprof"
	"runtime/trace"

	"github.com/spf13/pflag"
)

// profileFlags writes Go runtime profiles around a command.
type profileFlags struct {
	cpuProfile string
	memProfile string
	traceFile  string

	cpu   *os.File
	trace *os.File
}

func (p *profileFlags) register(flags *pflag.FlagSet) {
	flags.StringVar(&p.cpuProfile, "cpuprofile", "", "write a CPU profile to `file`")
	flags.StringVar(&p.memProfile, "memprofile", "", "write a heap profile to `file` on exit")
	flags.StringVar(&p.traceFile, "trace", "", "write an execution trace to `file`")
	_ = flags.MarkHidden("trace") //nolint:errcheck // flag is registered above
}

func (p *profileFlags) start() error {
	if p.cpuProfile != "" {
		f, err := os.Create(p.cpuProfile)
		if err != nil {
			return err
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			f.Close()
			return err
		}
		p.cpu = f
	}
	if p.traceFile != "" {
		f, err := os.Create(p.traceFile)
		if err != nil {
			return err
		}
		if err := trace.Start(f); err != nil {
			f.Close()
			return err
		}
		p.trace = f
	}
	return nil
}

func (p *profileFlags) stop() error {
	var errs []error
	if p.cpu != nil {
		pprof.StopCPUProfile()
		errs = append(errs, p.cpu.Close())
		p.cpu = nil
	}
	if p.trace != nil {
		trace.Stop()
		errs = append(errs, p.trace.Close())
		p.trace = nil
	}
	if p.memProfile != "" {
		runtime.GC()
		f, err := os.Create(p.memProfile)
		if err != nil {
			return errors.Join(append(errs, err)...)
		}
		errs = append(errs, pprof.WriteHeapProfile(f), f.Close())
	}
	return errors.Join(errs...)
}
