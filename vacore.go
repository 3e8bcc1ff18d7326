// Package vacore implements the DMA Engine Manager (DEM) and Signal
// Delivery Core (SDC): the process-management OS services layer that
// sits between a vector-accelerator driver and its user processes.
package vacore

import (
	"github.com/veos-go/vacore/internal/dma"
	"github.com/veos-go/vacore/internal/hwreg"
	"github.com/veos-go/vacore/internal/logging"
	"github.com/veos-go/vacore/internal/proctab"
	"github.com/veos-go/vacore/internal/sig"
	"github.com/veos-go/vacore/internal/xlate"
	"github.com/veos-go/vacore/internal/xport"
)

// Config gathers every external collaborator Manager wires together.
// Transport and Terminator are the host-facing edges; Regs and
// Translator are the hardware-facing edges. Only Regs and Translator
// are required — Transport/Terminator default to no-ops suitable for a
// standalone DEM without a live host-side partner, and a nil CoreDumper
// is replaced by a CoreDumpSession built from CoreDumpSessionConfig.
type Config struct {
	Regs       hwreg.Registers
	Translator xlate.Translator
	Transport  xport.Transport
	Terminator sig.Terminator
	CoreDumper sig.CoreDumper

	// Interrupt delivers a value on each hardware completion interrupt;
	// nil relies solely on polling (see internal/dma.Config).
	Interrupt <-chan struct{}
	// HwMax overrides the per-descriptor hardware length maximum.
	HwMax uint64
	// CoreDumpSessionConfig, if CoreDumper is nil, is used to build the
	// default CoreDumpSession.
	CoreDumpSessionConfig sig.CoreDumpSessionConfig

	// Observer records transfer, ring-occupancy, signal and group-action
	// observations from both DEM and SDC. Nil defaults to a
	// MetricsObserver over Metrics, so /metrics is populated without the
	// caller wiring anything explicitly.
	Observer Observer

	// SysfsRoot is VE_SYSFS_PATH(0), the directory holding the driver's
	// attribute files (spec section 6). When set, New starts a
	// DeathPoller against it that retires exited tasks from the process
	// table as the driver reports them. Empty disables death polling —
	// useful for tests and for hosts that retire tasks some other way.
	SysfsRoot string

	Logger  *logging.Logger
	Metrics *Metrics
}

// Manager wires DEM and SDC into one handle: the DMA API, the signal
// registry and delivery core, the group coordinator, and the process
// table every other piece shares. Construct with New, release with
// Close.
type Manager struct {
	DMA      *dma.API
	Registry *sig.Registry
	Delivery *sig.SigDelivery
	Group    *sig.GroupCoordinator
	Proctab  *proctab.Table
	Metrics  *Metrics

	engine      *dma.Engine
	coreDumper  *sig.CoreDumpSession
	transport   xport.Transport
	deathPoller *dma.DeathPoller
}

// New opens the DMA engine and assembles the signal delivery core on
// top of it.
func New(cfg Config) (*Manager, error) {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics()
	}
	if cfg.Observer == nil {
		cfg.Observer = NewMetricsObserver(cfg.Metrics)
	}

	engine, err := dma.Open(dma.Config{
		Regs:       cfg.Regs,
		Translator: cfg.Translator,
		Interrupt:  cfg.Interrupt,
		Logger:     cfg.Logger,
		HwMax:      cfg.HwMax,
		Observer:   cfg.Observer,
	})
	if err != nil {
		return nil, WrapError("New", CodeHardware, err)
	}
	api := dma.NewAPI(engine)

	registry := sig.NewRegistry()
	pt := proctab.New()
	group := sig.NewGroupCoordinator(registry, pt, cfg.Observer)

	var coreDumper sig.CoreDumper = cfg.CoreDumper
	var session *sig.CoreDumpSession
	if coreDumper == nil {
		dumperCfg := cfg.CoreDumpSessionConfig
		dumperCfg.Group = group
		dumperCfg.Proctab = pt
		if dumperCfg.Terminator == nil {
			dumperCfg.Terminator = cfg.Terminator
		}
		if dumperCfg.Logger == nil {
			dumperCfg.Logger = cfg.Logger
		}
		session = sig.NewCoreDumpSession(dumperCfg)
		coreDumper = session
	}

	delivery := sig.New(sig.Config{
		DMA:        api,
		Translator: cfg.Translator,
		Group:      group,
		CoreDumper: coreDumper,
		Terminator: cfg.Terminator,
		Logger:     cfg.Logger,
		Observer:   cfg.Observer,
	})

	var deathPoller *dma.DeathPoller
	if cfg.SysfsRoot != "" {
		deathPoller, err = dma.OpenDeathPoller(cfg.SysfsRoot, pt, cfg.Logger)
		if err != nil {
			engine.TerminateAll()
			_ = engine.Close()
			return nil, WrapError("New", CodeHardware, err)
		}
		go deathPoller.Run()
	}

	return &Manager{
		DMA:         api,
		Registry:    registry,
		Delivery:    delivery,
		Group:       group,
		Proctab:     pt,
		Metrics:     cfg.Metrics,
		engine:      engine,
		coreDumper:  session,
		transport:   cfg.Transport,
		deathPoller: deathPoller,
	}, nil
}

// RegisterTask adds a newly-created accelerator process to both the
// signal registry and the process table, the two places that need to
// agree on its existence before DeliverPending or GroupCoordinator.Apply
// can reason about it.
func (m *Manager) RegisterTask(pid, groupLeaderPid int32, maxPendingSignals int) *sig.TaskState {
	ts := sig.NewTaskState(pid, groupLeaderPid, maxPendingSignals)
	m.Registry.Insert(ts)
	m.Proctab.Insert(proctab.Task{
		Pid:            pid,
		GroupLeaderPid: groupLeaderPid,
		HostState:      proctab.HostStateRunning,
	})
	return ts
}

// RemoveTask retires a terminated accelerator process from both tables.
func (m *Manager) RemoveTask(pid int32) {
	m.Registry.Remove(pid)
	m.Proctab.Remove(pid)
}

// Close tears down the DMA engine (canceling any in-flight transfers)
// and releases the registry and process table. The transport, if any,
// is closed last so in-flight teardown traffic still has a channel.
func (m *Manager) Close() error {
	var closeErr error
	if m.deathPoller != nil {
		closeErr = m.deathPoller.Close()
	}

	m.engine.TerminateAll()
	if eErr := m.engine.Close(); eErr != nil && closeErr == nil {
		closeErr = eErr
	}

	m.Registry.Close()
	m.Proctab.Close()

	if m.transport != nil {
		if tErr := m.transport.Close(); tErr != nil && closeErr == nil {
			closeErr = tErr
		}
	}
	if closeErr != nil {
		return WrapError("Close", CodeShutdown, closeErr)
	}
	return nil
}
