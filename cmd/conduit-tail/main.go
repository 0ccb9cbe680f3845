package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/conduitcloud/conduit-go/channel"
	"github.com/conduitcloud/conduit-go/config"
	"github.com/conduitcloud/conduit-go/connection"
	"github.com/conduitcloud/conduit-go/connection/broker"
	"github.com/conduitcloud/conduit-go/connection/clientconnection"
	"github.com/conduitcloud/conduit-go/connection/messenger/eventframe"
	"github.com/conduitcloud/conduit-go/connection/transporter/websocket"
	"github.com/conduitcloud/conduit-go/filelock"
	"github.com/conduitcloud/conduit-go/logger"
)

const clientVersion = "$CLIENT_VERSION"

var (
	configPath string
	host       string
	authUrl    string
	channels   string
	events     string
	logPath    string
	logLevel   string
	saveConfig bool
)

func main() {
	parseFlags()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "conduit-tail: %s\n", err)
		os.Exit(1)
	}

	log, err := createLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "conduit-tail: failed to set up logging: %s\n", err)
		os.Exit(1)
	}
	log.AddClientVersion(clientVersion)

	if saveConfig {
		lock := filelock.NewFileLock(configPath + ".lock")
		if err := cfg.Save(configPath, lock); err != nil {
			log.Errorf("failed to save config: %s", err)
		}
	}

	conn := connect(log, cfg)
	tail(log, conn)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sig := <-sigChan
	log.Infof("Received %s, closing connection", sig)
	conn.Close(fmt.Errorf("interrupted by %s", sig))
}

func parseFlags() {
	flag.StringVar(&configPath, "config", defaultConfigPath(), "path to the yaml config")
	flag.StringVar(&host, "host", "", "service node endpoint, overrides the config file")
	flag.StringVar(&authUrl, "auth", "", "channel authorization endpoint, overrides the config file")
	flag.StringVar(&channels, "channels", "", "comma separated channels to subscribe to")
	flag.StringVar(&events, "events", "", "comma separated event names to print")
	flag.StringVar(&logPath, "logPath", "", "log file path, overrides the config file")
	flag.StringVar(&logLevel, "logLevel", "", "log level, overrides the config file")
	flag.BoolVar(&saveConfig, "save", false, "write the effective config back to the config path")
	flag.Parse()
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "conduit.yml"
	}
	return filepath.Join(home, ".conduit", "conduit.yml")
}

// loadConfig layers the command line over the config file. Flags alone can
// stand in for a missing file.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		var notFound *config.NotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		cfg = &config.Config{LogLevel: config.DefaultLogLevel}
	}

	if host != "" {
		cfg.Host = host
	}
	if authUrl != "" {
		cfg.AuthEndpoint = authUrl
	}
	if logPath != "" {
		cfg.LogPath = logPath
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func createLogger(cfg *config.Config) (*logger.Logger, error) {
	// Event lines go to stdout, so logs keep to stderr and the log file
	return logger.New(&logger.Config{
		ConsoleWriters: []io.Writer{os.Stderr},
		FilePath:       cfg.LogPath,
		LogLevel:       logger.ToLogLevel(cfg.LogLevel),
	})
}

func connect(log *logger.Logger, cfg *config.Config) connection.Connection {
	connLogger := log.GetConnectionLogger(uuid.New().String())
	client := eventframe.New(connLogger.GetComponentLogger("EventFrame"), websocket.New(connLogger.GetComponentLogger("Websocket")))

	params := url.Values{
		"client":  {"conduit-go"},
		"version": {clientVersion},
	}

	conn, _ := clientconnection.New(connLogger, cfg.Host, cfg.AuthEndpoint, params, http.Header{}, client, nil)
	return conn
}

// tail subscribes the named channels and binds a printing listener for every
// requested event on each of them. With no channels the events are bound
// connection-wide instead.
func tail(log *logger.Logger, conn connection.Connection) {
	channelNames := split(channels)
	eventNames := split(events)

	if len(eventNames) == 0 {
		log.Infof("No events named, nothing will print until interrupted")
	}

	if len(channelNames) == 0 {
		for _, event := range eventNames {
			conn.On(event, printer("", event))
		}
		return
	}

	for _, name := range channelNames {
		ch, err := channel.New(name)
		if err != nil {
			log.Errorf("skipping channel %s: %s", name, err)
			continue
		}

		conn.Subscribe(ch)

		for _, event := range eventNames {
			conn.Bind(ch, event, printer(name, event))
		}
	}
}

func printer(channelName string, event string) broker.EventHandler {
	return func(data json.RawMessage) {
		entry := map[string]interface{}{
			"event": event,
			"data":  data,
		}
		if channelName != "" {
			entry["channel"] = channelName
		}

		line, err := json.Marshal(entry)
		if err != nil {
			return
		}
		fmt.Println(string(line))
	}
}

func split(list string) []string {
	parts := []string{}
	for _, part := range strings.Split(list, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
