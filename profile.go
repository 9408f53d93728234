package main

import (
	"fmt"
	"os"
	"path"
	"runtime"
	"runtime/pprof"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
)

const (
	// memProfileRate overrides runtime.MemProfileRate while a session runs.
	memProfileRate = 4096

	profTimeFormat = "20060102_150405"
)

// Profiler is an active profiling session, toggled at runtime via SIGUSR2.
type Profiler struct {
	dataDir string

	// closers run in order when the session stops.
	closers []func()

	stopped uint32
}

// StartProfiler begins collecting cpu, heap, mutex and block profiles under
// dataDir. Call Stop to flush and close them.
func StartProfiler(dataDir string) *Profiler {
	p := &Profiler{dataDir: dataDir}

	p.startCpuProfile()
	p.startMemProfile()
	p.startMutexProfile()
	p.startBlockProfile()

	return p
}

// Stop flushes any unwritten profile data. Safe to call more than once.
func (p *Profiler) Stop() {
	if !atomic.CompareAndSwapUint32(&p.stopped, 0, 1) {
		return
	}
	for _, closer := range p.closers {
		closer()
	}
}

func (p *Profiler) startCpuProfile() {
	f, fn, ok := p.createDumpFile("cpu")
	if !ok {
		return
	}

	glog.Infof("pprof: cpu profiling enabled, %s", fn)
	pprof.StartCPUProfile(f)
	p.closers = append(p.closers, func() {
		pprof.StopCPUProfile()
		f.Close()
		glog.Infof("pprof: cpu profiling disabled, %s", fn)
	})
}

func (p *Profiler) startMemProfile() {
	f, fn, ok := p.createDumpFile("mem")
	if !ok {
		return
	}

	old := runtime.MemProfileRate
	runtime.MemProfileRate = memProfileRate
	glog.Infof("pprof: memory profiling enabled (rate %d), %s", runtime.MemProfileRate, fn)
	p.closers = append(p.closers, func() {
		pprof.Lookup("heap").WriteTo(f, 0)
		f.Close()
		runtime.MemProfileRate = old
		glog.Infof("pprof: memory profiling disabled, %s", fn)
	})
}

func (p *Profiler) startMutexProfile() {
	f, fn, ok := p.createDumpFile("mutex")
	if !ok {
		return
	}

	runtime.SetMutexProfileFraction(1)
	glog.Infof("pprof: mutex profiling enabled, %s", fn)
	p.closers = append(p.closers, func() {
		if mp := pprof.Lookup("mutex"); mp != nil {
			mp.WriteTo(f, 0)
		}
		f.Close()
		runtime.SetMutexProfileFraction(0)
		glog.Infof("pprof: mutex profiling disabled, %s", fn)
	})
}

func (p *Profiler) startBlockProfile() {
	f, fn, ok := p.createDumpFile("block")
	if !ok {
		return
	}

	runtime.SetBlockProfileRate(1)
	glog.Infof("pprof: block profiling enabled, %s", fn)
	p.closers = append(p.closers, func() {
		pprof.Lookup("block").WriteTo(f, 0)
		f.Close()
		runtime.SetBlockProfileRate(0)
		glog.Infof("pprof: block profiling disabled, %s", fn)
	})
}

func (p *Profiler) createDumpFile(kind string) (*os.File, string, bool) {
	fn := path.Join(p.dataDir, fmt.Sprintf("%s-%s.pprof", kind, time.Now().Format(profTimeFormat)))
	f, err := os.Create(fn)
	if err != nil {
		glog.Errorf("pprof: could not create %s profile %q: %v", kind, fn, err)
		return nil, "", false
	}
	return f, fn, true
}

func (p *Profiler) dumpGoroutines() {
	fn := path.Join(p.dataDir, fmt.Sprintf("goroutines-%s.dump", time.Now().Format(profTimeFormat)))
	glog.Infof("dumping goroutine profile to %s", fn)
	f, err := os.Create(fn)
	if err != nil {
		glog.Errorf("failed to dump goroutine profile: %v", err)
		return
	}
	defer f.Close()
	if err := pprof.Lookup("goroutine").WriteTo(f, 2); err != nil {
		glog.Errorf("failed to write goroutine profile to %s: %v", fn, err)
	}
}
