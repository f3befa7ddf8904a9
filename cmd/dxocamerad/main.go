package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.jpl.nasa.gov/bdube/dxocam"
	"github.jpl.nasa.gov/bdube/dxocam/generichttp"
	"github.jpl.nasa.gov/bdube/dxocam/generichttp/camera"
	"github.jpl.nasa.gov/bdube/dxocam/imgrec"
	"github.jpl.nasa.gov/bdube/dxocam/server/middleware/locker"
	"github.jpl.nasa.gov/bdube/dxocam/serveraccess"

	"github.com/cenkalti/backoff"
	"github.com/fatih/color"
	"github.com/fsnotify/fsnotify"
	"github.com/go-chi/chi"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	yml "gopkg.in/yaml.v2"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "dxocamerad.yml"
	k              = koanf.New(".")
)

type recorderConfig struct {
	Root   string `yaml:"Root"`
	Prefix string `yaml:"Prefix"`
}

type config struct {
	Addr      string         `yaml:"Addr"`
	Root      string         `yaml:"Root"`
	VendorID  uint16         `yaml:"VendorID"`
	ProductID uint16         `yaml:"ProductID"`
	Nickname  string         `yaml:"Nickname"`
	Recorder  recorderConfig `yaml:"Recorder"`

	// ConnectRetrySeconds bounds how long the daemon retries USB
	// bring-up after startup before giving up and exiting.
	ConnectRetrySeconds int `yaml:"ConnectRetrySeconds"`
}

func setupconfig() {
	k.Load(structs.Provider(config{
		Addr:      ":8001",
		Root:      "/",
		VendorID:  0x2b4c, // DXO One, per USB-IF vendor assignment
		ProductID: 0x0002,
		Recorder: recorderConfig{
			Root:   "/tmp/dxocam",
			Prefix: "frame_",
		},
		ConnectRetrySeconds: 30,
	}, "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func root() {
	str := `dxocamerad exposes control of a DXO One camera over HTTP.
This enables a server-client architecture, so that a client anywhere
on the network can take photos and stream live view without linking
against this driver directly.

Usage:
	dxocamerad <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `dxocamerad is configured via its .yaml file.  For a primer on YAML, see
https://yaml.org/start.html

When no configuration is provided, the defaults are used.  Keys are not case-sensitive.
The command mkconf generates the configuration file with the default values.

The config file is watched while the server runs; editing Nickname and
Recorder.Root/Recorder.Prefix takes effect without a restart. Addr,
VendorID, and ProductID require a restart.`
	fmt.Println(str)
}

func mkconf() {
	c := config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	err = yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("dxocamerad version %v\n", Version)
}

// watchConfig reloads the config file on write and applies the fields
// that are safe to change at runtime to the live camera and recorder.
func watchConfig(cam *dxocam.Device, rec *imgrec.Recorder) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("config hot-reload disabled: %v", err)
		return
	}
	if err := watcher.Add(ConfigFileName); err != nil {
		log.Printf("config hot-reload disabled, could not watch %s: %v", ConfigFileName, err)
		return
	}
	go func() {
		for event := range watcher.Events {
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
				log.Printf("config reload failed: %v", err)
				continue
			}
			cfg := config{}
			if err := k.Unmarshal("", &cfg); err != nil {
				log.Printf("config reload failed: %v", err)
				continue
			}
			cam.SetNickname(cfg.Nickname)
			rec.Root = cfg.Recorder.Root
			rec.Prefix = cfg.Recorder.Prefix
			log.Println("config reloaded")
		}
	}()
}

func run() {
	cfg := config{}
	if err := k.Unmarshal("", &cfg); err != nil {
		log.Fatal(err)
	}

	color.New(color.FgCyan, color.Bold).Printf("dxocamerad %s\n", Version)
	color.New(color.FgCyan).Printf("vid=%#04x pid=%#04x\n", cfg.VendorID, cfg.ProductID)

	cam := dxocam.NewDevice(cfg.VendorID, cfg.ProductID, "")
	cam.SetNickname(cfg.Nickname)

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = time.Duration(cfg.ConnectRetrySeconds) * time.Second
	err := backoff.Retry(func() error {
		err := cam.Initialize()
		if err != nil {
			log.Printf("camera initialization failed, retrying: %v", err)
		}
		return err
	}, b)
	if err != nil {
		log.Fatalf("could not connect to camera after retrying: %v", err)
	}
	color.New(color.FgGreen).Println("camera connected and ready")

	rec := &imgrec.Recorder{Root: cfg.Recorder.Root, Prefix: cfg.Recorder.Prefix, Ext: "jpg"}
	watchConfig(cam, rec)

	w := camera.NewHTTPCamera(cam, rec)

	status := &serveraccess.ServerStatus{}
	lock := locker.New()
	locker.Inject(w, lock)
	imgrec.NewHTTPWrapper(rec).Inject(w)

	hndlrS := generichttp.SubMuxSanitize(cfg.Root)
	root := chi.NewRouter()
	mux := chi.NewRouter()
	root.Mount(hndlrS, mux)
	mux.Use(lock.Check)
	w.RT().Bind(mux)
	mux.Post("/session/notify", status.NotifyActive)
	mux.Post("/session/release", status.ReleaseActive)
	mux.Get("/session/status", status.CheckActive)

	addr := cfg.Addr
	log.Println("now listening for requests at", addr+cfg.Root)
	log.Fatal(http.ListenAndServe(addr, root))
}

func main() {
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd := strings.ToLower(args[1])
	switch cmd {
	case "help":
		help()
	case "mkconf":
		mkconf()
	case "conf":
		printconf()
	case "run":
		run()
	case "version":
		pversion()
	default:
		log.Fatal("unknown command")
	}
}
