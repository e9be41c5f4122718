// inkwell-wsd is the master front-end of the collaborative document
// server: it terminates user websockets, brokers documents onto jailed
// worker processes forked by the inkwell-forkit supervisor, and bridges
// the two for the lifetime of each editing session.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"syscall"

	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"
	mbp "go.gazette.dev/core/mainboilerplate"
	"go.gazette.dev/core/task"

	"github.com/inkwell-hq/inkwell/go/broker"
	"github.com/inkwell-hq/inkwell/go/pool"
	"github.com/inkwell-hq/inkwell/go/serve"
)

// Exit statuses, following the sysexits convention.
const (
	exitOK       = 0
	exitUsage    = 64
	exitSoftware = 70
)

const pidFile = "/tmp/loolwsd.pid"

type config struct {
	Port           int    `long:"port" default:"9980" description:"Port number to listen on for client connections"`
	Cache          string `long:"cache" description:"Path to a persistent tile cache directory"`
	SysTemplate    string `long:"systemplate" description:"Path to the system template tree copied into each jail"`
	LoTemplate     string `long:"lotemplate" description:"Path to the office installation tree"`
	ChildRoot      string `long:"childroot" description:"Path under which worker jails are created"`
	LoSubPath      string `long:"losubpath" default:"lo" description:"Relative path of the office installation inside each jail"`
	FileServerRoot string `long:"fileserverroot" description:"Path to the static web asset tree"`
	NumPreSpawns   int    `long:"numprespawns" default:"10" description:"Number of worker processes to keep ready"`
	SSLCert        string `long:"sslcert" description:"Path to the TLS certificate of the client port"`
	SSLKey         string `long:"sslkey" description:"Path to the TLS key of the client port"`
	Test           bool   `long:"test" description:"Interactive test mode: drive a session from stdin"`
	Version        bool   `long:"version" description:"Print version information and exit"`

	Log mbp.LogConfig `group:"Logging" namespace:"log" env-namespace:"LOG"`
}

func main() {
	os.Exit(run())
}

func run() int {
	var cfg config
	var parser = flags.NewParser(&cfg, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			return exitOK
		}
		return exitUsage
	}
	if cfg.Version {
		fmt.Printf("inkwell-wsd %s (%s)\n", mbp.Version, mbp.BuildDate)
		return exitOK
	}

	mbp.InitLog(cfg.Log)

	if os.Getuid() == 0 {
		log.Error("refusing to run as root")
		return exitUsage
	}
	for _, req := range []struct{ name, value string }{
		{"systemplate", cfg.SysTemplate},
		{"lotemplate", cfg.LoTemplate},
		{"childroot", cfg.ChildRoot},
	} {
		if req.value == "" {
			log.WithField("option", req.name).Error("required option is missing")
			return exitUsage
		}
	}
	if cfg.Port == serve.DefaultInternalPort {
		log.WithField("port", cfg.Port).Error("client port conflicts with the internal port")
		return exitUsage
	}
	if cfg.Test {
		// One session, one worker.
		cfg.NumPreSpawns = 1
	}

	if err := serveWSD(cfg); err != nil {
		log.WithField("err", err).Error("inkwell-wsd failed")
		return exitSoftware
	}
	log.Info("goodbye")
	return exitOK
}

func serveWSD(cfg config) error {
	if err := os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644); err != nil {
		return fmt.Errorf("writing pid file: %w", err)
	}
	defer os.Remove(pidFile)

	if err := pool.EnsureFIFOs(cfg.ChildRoot); err != nil {
		return err
	}

	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locating executable: %w", err)
	}
	if cfg.FileServerRoot == "" {
		cfg.FileServerRoot = filepath.Join(filepath.Dir(self), "loleaflet")
	}
	sup, err := pool.Launch(filepath.Join(filepath.Dir(self), "inkwell-forkit"),
		pool.SupervisorOptions{
			SysTemplate: cfg.SysTemplate,
			LoTemplate:  cfg.LoTemplate,
			ChildRoot:   cfg.ChildRoot,
			LoSubPath:   cfg.LoSubPath,
			CacheDir:    cfg.Cache,
			ClientPort:  cfg.Port,
		})
	if err != nil {
		return err
	}

	var p = pool.NewPool(sup, cfg.NumPreSpawns, pool.DefaultAcquireTimeout)
	var registry = broker.NewRegistry(p)
	var terminating atomic.Bool

	var fileServer = http.StripPrefix("/loleaflet/",
		http.FileServer(http.Dir(cfg.FileServerRoot)))
	var srv = serve.NewServer(serve.Config{
		PublicAddr:     ":" + strconv.Itoa(cfg.Port),
		InternalAddr:   fmt.Sprintf("127.0.0.1:%d", serve.DefaultInternalPort),
		AdvertisedPort: cfg.Port,
		ChildRoot:      cfg.ChildRoot,
		DiscoveryPath:  filepath.Join(cfg.FileServerRoot, "discovery.xml"),
		CertFile:       cfg.SSLCert,
		KeyFile:        cfg.SSLKey,
		FileServer:     fileServer,
	}, registry, p, &terminating)
	if err = srv.Bind(); err != nil {
		_ = sup.Stop()
		return fmt.Errorf("binding endpoints: %w", err)
	}

	var tasks = task.NewGroup(context.Background())
	srv.QueueTasks(tasks)

	// The command FIFO open blocks until the supervisor attaches, so it
	// runs after the internal endpoint is accepting registrations.
	tasks.Queue("pool.preSpawn", func() error {
		if err := sup.OpenCommandPipe(cfg.ChildRoot); err != nil {
			return err
		}
		p.PreSpawn()
		return nil
	})

	var maint = &serve.Maintenance{
		Registry:       registry,
		PollSupervisor: sup.Poll,
		OnSupervisorExit: func() {
			terminating.Store(true)
			tasks.Cancel()
		},
	}
	tasks.Queue("maintenance.Run", func() error { return maint.Run(tasks.Context()) })

	tasks.Queue("adminNotify.forward", func() error {
		return forwardAdminNotify(tasks.Context(), cfg.ChildRoot)
	})

	var signalCh = make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGTERM, syscall.SIGINT)
	tasks.Queue("watch signalCh", func() error {
		select {
		case sig := <-signalCh:
			log.WithField("signal", sig).Info("caught signal")
			terminating.Store(true)
			tasks.Cancel()
			srv.Stop()
			return nil
		case <-tasks.Context().Done():
			return nil
		}
	})

	if cfg.Test {
		tasks.Queue("test.driver", func() error {
			defer tasks.Cancel()
			return runTestDriver(tasks.Context(), srv.PublicAddr())
		})
	}

	tasks.GoRun()
	err = tasks.Wait()

	_ = sup.SendEOF()
	_ = sup.Stop()
	cleanupJails(cfg.ChildRoot)

	if err != nil {
		return fmt.Errorf("task failed: %w", err)
	}
	return nil
}

// forwardAdminNotify relays supervisor event lines from the notify FIFO
// into the log. The FIFO is opened read-write so the open never blocks
// and the read side survives supervisor restarts.
func forwardAdminNotify(ctx context.Context, childRoot string) error {
	var path = filepath.Join(childRoot, pool.PipeDir, pool.AdminNotifyFIFO)
	var f, err = os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("opening notify FIFO %s: %w", path, err)
	}
	var stop = context.AfterFunc(ctx, func() { _ = f.Close() })
	defer stop()

	var buf = make([]byte, 4096)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			log.WithField("event", string(buf[:n])).Debug("supervisor notification")
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// cleanupJails removes everything under the child root, including any
// jails the supervisor left behind.
func cleanupJails(childRoot string) {
	var entries, err = os.ReadDir(childRoot)
	if err != nil {
		log.WithFields(log.Fields{"childroot": childRoot, "err": err}).
			Warn("failed to scan child root for cleanup")
		return
	}
	for _, entry := range entries {
		var path = filepath.Join(childRoot, entry.Name())
		if err = os.RemoveAll(path); err != nil {
			log.WithFields(log.Fields{"path": path, "err": err}).Warn("failed to remove jail")
		}
	}
}
