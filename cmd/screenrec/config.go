package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"text/template"
	"time"

	"github.com/companyzero/screenrec/internal/audio"
	"github.com/companyzero/screenrec/internal/capture"
	"github.com/companyzero/screenrec/internal/version"
	"github.com/companyzero/screenrec/internal/video"
	"github.com/companyzero/screenrec/recorder"
	"github.com/jrick/flagfile"
	"github.com/mitchellh/go-homedir"
	strduration "github.com/xhit/go-str2duration/v2"
)

const (
	appName = "screenrec"
)

var (
	// Error to signal loadConfig() completed everything the cmd had to do
	// and main() should exit.
	errCmdDone = errors.New("cmd done")
)

type config struct {
	CfgFile  string
	Settings recorder.Settings

	LogFile          string
	MaxLogFiles      int
	DebugLevel       string
	ListenPrometheus string
	Profiler         string

	CopyPath  bool
	AutoStart bool

	// The following are only set from the command line.
	Duration     time.Duration
	ListDisplays bool
	ListDevices  bool
}

func defaultAppDataDir(homeDir string) string {
	switch runtime.GOOS {
	// Attempt to use the LOCALAPPDATA or APPDATA environment variable on
	// Windows.
	case "windows":
		appData := os.Getenv("LOCALAPPDATA")
		if appData == "" {
			appData = os.Getenv("APPDATA")
		}

		if appData != "" {
			return filepath.Join(appData, appName)
		}

	case "darwin":
		if homeDir != "" {
			return filepath.Join(homeDir, "Library",
				"Application Support", appName)
		}

	default:
		if homeDir != "" {
			return filepath.Join(homeDir, "."+appName)
		}
	}

	return filepath.Join(".", appName)
}

// parseDuration parses an optional duration. An empty string is zero.
func parseDuration(name, s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	d, err := strduration.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid value for flag '%s': %v", name, err)
	}
	return d, nil
}

// expandPath expands a leading ~ in path.
func expandPath(path string) (string, error) {
	path, err := homedir.Expand(path)
	if err != nil {
		return "", err
	}
	return filepath.Clean(path), nil
}

// parseConfigFile parses the contents of a config file. Options missing from
// the file keep their default values.
func parseConfigFile(r io.Reader, appDir string) (*config, error) {
	def := recorder.DefaultSettings()

	fs := flag.NewFlagSet("Config Options", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	// record
	flagFolder := fs.String("record.folder", defaultFolder(), "Directory of recordings")
	flagFPS := fs.Int("record.fps", def.FPS, "Frames per second")
	flagFormat := fs.String("record.format", string(def.Format), "Container of recordings")
	flagMode := fs.String("record.mode", string(def.Mode), "Region mode")
	flagMonitor := fs.Int("record.monitor", def.Monitor, "Display to record")
	flagRegion := fs.String("record.region", "", "Custom region")
	flagIntermediate := fs.String("record.intermediate", string(def.Intermediate), "Raw video encoding")
	flagJPEGQuality := fs.Int("record.jpegquality", def.JPEGQuality, "JPEG quality")
	flagMaxDuration := fs.String("record.maxduration", "", "Max session duration")
	flagStopTimeout := fs.String("record.stoptimeout", def.StopTimeout.String(), "Stop timeout")

	// audio
	flagAudioEnabled := fs.Bool("audio.enabled", def.AudioEnabled, "Record audio")
	flagAudioDevice := fs.String("audio.device", "", "Capture device ID")
	flagSampleRate := fs.Int("audio.samplerate", def.SampleRate, "Sample rate")
	flagChannels := fs.Int("audio.channels", def.Channels, "Channels")
	flagAudioQueue := fs.String("audio.queue", def.AudioQueue.String(), "Audio buffer duration")

	// mux
	flagFFmpeg := fs.String("mux.ffmpeg", def.FFmpeg, "Path to ffmpeg")
	flagSyncStretch := fs.Bool("mux.syncstretch", def.SyncStretch, "Stretch audio to the video duration")

	// log
	flagLogFile := fs.String("log.logfile", filepath.Join(appDir, "logs", appName+".log"), "Log file location")
	flagMaxLogFiles := fs.Int("log.maxlogfiles", 0, "Max log files")
	flagDebugLevel := fs.String("log.debuglevel", "info", "Debug Level")
	flagStatsInterval := fs.String("log.statsinterval", def.StatsInterval.String(), "Stats report interval")
	flagListenPrometheus := fs.String("log.listenprometheus", "", "Prometheus listen address")
	flagProfiler := fs.String("log.profiler", "", "ip:port of where to run the go profiler")

	// ui
	flagCopyPath := fs.Bool("ui.copypath", false, "Copy saved paths to the clipboard")
	flagAutoStart := fs.Bool("ui.autostart", false, "Start recording on launch")

	// Load config from file.
	parser := flagfile.Parser{
		ParseSections: true,
	}
	if err := parser.Parse(r, fs); err != nil {
		return nil, err
	}

	maxDuration, err := parseDuration("record.maxduration", *flagMaxDuration)
	if err != nil {
		return nil, err
	}
	stopTimeout, err := parseDuration("record.stoptimeout", *flagStopTimeout)
	if err != nil {
		return nil, err
	}
	audioQueue, err := parseDuration("audio.queue", *flagAudioQueue)
	if err != nil {
		return nil, err
	}
	statsInterval, err := parseDuration("log.statsinterval", *flagStatsInterval)
	if err != nil {
		return nil, err
	}

	var region capture.Region
	if *flagRegion != "" {
		region, err = capture.ParseRegion(*flagRegion)
		if err != nil {
			return nil, err
		}
	}
	mode := capture.Mode(strings.ToLower(strings.TrimSpace(*flagMode)))
	if mode == capture.ModeCustom && *flagRegion == "" {
		return nil, fmt.Errorf("flag 'record.region' is required in custom mode")
	}

	folder, err := expandPath(*flagFolder)
	if err != nil {
		return nil, err
	}
	logFile := *flagLogFile
	if logFile != "" {
		if logFile, err = expandPath(logFile); err != nil {
			return nil, err
		}
	}
	ffmpeg := strings.TrimSpace(*flagFFmpeg)
	if strings.HasPrefix(ffmpeg, "~") {
		if ffmpeg, err = expandPath(ffmpeg); err != nil {
			return nil, err
		}
	}

	st := recorder.Settings{
		Folder:        folder,
		FPS:           *flagFPS,
		Format:        recorder.Format(*flagFormat),
		Mode:          mode,
		Monitor:       *flagMonitor,
		Region:        region,
		Intermediate:  video.Kind(strings.ToLower(strings.TrimSpace(*flagIntermediate))),
		JPEGQuality:   *flagJPEGQuality,
		AudioEnabled:  *flagAudioEnabled,
		AudioDevice:   audio.DeviceID(strings.TrimSpace(*flagAudioDevice)),
		SampleRate:    *flagSampleRate,
		Channels:      *flagChannels,
		AudioQueue:    audioQueue,
		FFmpeg:        ffmpeg,
		SyncStretch:   *flagSyncStretch,
		StopTimeout:   stopTimeout,
		MaxDuration:   maxDuration,
		StatsInterval: statsInterval,
	}

	// Reject settings the engine would refuse to start with.
	if _, err := st.Normalize(); err != nil {
		return nil, err
	}

	return &config{
		Settings:         st,
		LogFile:          logFile,
		MaxLogFiles:      *flagMaxLogFiles,
		DebugLevel:       *flagDebugLevel,
		ListenPrometheus: strings.TrimSpace(*flagListenPrometheus),
		Profiler:         strings.TrimSpace(*flagProfiler),
		CopyPath:         *flagCopyPath,
		AutoStart:        *flagAutoStart,
	}, nil
}

// readConfigFile reads and parses the config file at path.
func readConfigFile(path, appDir string) (*config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg, err := parseConfigFile(f, appDir)
	if err != nil {
		return nil, fmt.Errorf("unable to parse config file %s: %w", path, err)
	}
	cfg.CfgFile = path
	return cfg, nil
}

// defaultFolder is the default directory for recordings.
func defaultFolder() string {
	return filepath.Join("~", "Videos", appName)
}

// configTemplateData is the data used to generate a new config file.
type configTemplateData struct {
	Folder       string
	FPS          int
	Format       recorder.Format
	Mode         capture.Mode
	Monitor      int
	Intermediate video.Kind
	AudioEnabled bool
	FFmpeg       string
	LogFile      string
}

// writeDefaultConfig generates a config file with the default settings.
func writeDefaultConfig(cfgFile string) error {
	def := recorder.DefaultSettings()
	data := configTemplateData{
		Folder:       defaultFolder(),
		FPS:          def.FPS,
		Format:       def.Format,
		Mode:         def.Mode,
		Monitor:      def.Monitor,
		Intermediate: def.Intermediate,
		AudioEnabled: def.AudioEnabled,
		FFmpeg:       def.FFmpeg,
		LogFile:      filepath.Join(filepath.Dir(cfgFile), "logs", appName+".log"),
	}

	tmpl, err := template.New("configfile").Parse(defaultConfigFileContent)
	if err != nil {
		return err
	}

	var generated bytes.Buffer
	if err := tmpl.Execute(&generated, data); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(cfgFile), 0o700); err != nil {
		return fmt.Errorf("unable to create config dir: %v", err)
	}

	return os.WriteFile(cfgFile, generated.Bytes(), 0o600)
}

// loadConfig parses the command line arguments and loads the config file,
// creating it with default values when it does not exist.
func loadConfig(args []string) (*config, error) {
	// Setup defaults.
	homeDir, err := homedir.Dir()
	if err != nil {
		return nil, err
	}
	defaultAppDir := defaultAppDataDir(homeDir)
	defaultCfgFile := filepath.Join(defaultAppDir, appName+".conf")

	// Parse CLI arguments.
	fs := flag.NewFlagSet("CLI Arguments", flag.ContinueOnError)
	flagVersion := fs.Bool("version", false, "Display current version and exit")
	flagCfgFile := fs.String("cfg", defaultCfgFile, "Config file to load")
	flagListDisplays := fs.Bool("listdisplays", false, "List the active displays and exit")
	flagListDevices := fs.Bool("listdevices", false, "List the audio capture devices and exit")
	flagDuration := fs.String("duration", "", "Record for this long and exit")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, errCmdDone
		}
		return nil, err
	}

	if *flagVersion {
		fmt.Printf("%s version %s (%s)\n", appName, version.String(), runtime.Version())
		return nil, errCmdDone
	}

	duration, err := parseDuration("duration", *flagDuration)
	if err != nil {
		return nil, err
	}

	// Make sure cfgFile is not empty.
	cfgFile := *flagCfgFile
	if cfgFile == "" {
		cfgFile = defaultCfgFile
	}
	if cfgFile, err = expandPath(cfgFile); err != nil {
		return nil, err
	}

	if _, err := os.Stat(cfgFile); errors.Is(err, os.ErrNotExist) {
		if err := writeDefaultConfig(cfgFile); err != nil {
			return nil, fmt.Errorf("unable to create config file: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Created config file %s\n", cfgFile)
	}

	cfg, err := readConfigFile(cfgFile, filepath.Dir(cfgFile))
	if err != nil {
		return nil, err
	}
	cfg.Duration = duration
	cfg.ListDisplays = *flagListDisplays
	cfg.ListDevices = *flagListDevices
	return cfg, nil
}
