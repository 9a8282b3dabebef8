package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/docopt/docopt-go"
	"github.com/spf13/viper"

	"github.com/usecanon/canon-go/canon"
)

const CanonCtlVersion = "0.0.1"

const DefaultEndpoint = "https://api.usecanon.dev"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)

	flag.Set("logtostderr", "true")
	flag.Set("stderrthreshold", "INFO")
}

func main() {
	usage := fmt.Sprintf(
		`Canon control.

Configuration is taken from the flags, then the environment
(CANON_ENDPOINT, CANON_PROJECT_ID, CANON_API_KEY), then the config file.
The default endpoint is %s

Usage:
    canonctl get [<path>] [--envelope] [options]
    canonctl select <path> [options]
    canonctl subscribe [--no_reconnect] [--max_delay=<ms>] [--message_count=<n>] [options]
    canonctl watch [<path>] [options]
    canonctl key-info [options]

Options:
    -h --help                   Show this screen.
    --version                   Show version.
    --endpoint=<endpoint>       Api endpoint.
    --project_id=<project_id>   Project id.
    --api_key=<api_key>         Api key.
    --config=<config>           Config file (yaml, json, toml).
    --envelope                  Include path, cursor and update time.
    --no_reconnect              Exit when the connection closes.
    --max_delay=<ms>            Maximum reconnect delay in milliseconds [default: 30000].
    --message_count=<n>         Print this many messages then exit.
    -v --verbose                Log connection events.`,
		DefaultEndpoint,
	)

	opts, err := docopt.ParseArgs(usage, os.Args[1:], CanonCtlVersion)
	if err != nil {
		panic(err)
	}

	if verbose, _ := opts.Bool("--verbose"); verbose {
		flag.Set("v", "2")
		canon.GlobalLogLevel = canon.LogLevelDebug
	}

	if get_, _ := opts.Bool("get"); get_ {
		get(opts)
	} else if select_, _ := opts.Bool("select"); select_ {
		selectPath(opts)
	} else if subscribe_, _ := opts.Bool("subscribe"); subscribe_ {
		subscribe(opts)
	} else if watch_, _ := opts.Bool("watch"); watch_ {
		watch(opts)
	} else if keyInfo_, _ := opts.Bool("key-info"); keyInfo_ {
		keyInfo(opts)
	}
}

func loadConfig(opts docopt.Opts) canon.ClientConfig {
	v := viper.New()
	v.SetEnvPrefix("canon")
	v.AutomaticEnv()
	v.SetDefault("endpoint", DefaultEndpoint)

	if configPath, err := opts.String("--config"); err == nil && configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			Err.Fatalf("Could not read config %s: %s", configPath, err)
		}
	}

	for _, key := range []string{"endpoint", "project_id", "api_key"} {
		if value, err := opts.String("--" + key); err == nil && value != "" {
			v.Set(key, value)
		}
	}

	return canon.ClientConfig{
		Endpoint:  v.GetString("endpoint"),
		ProjectId: v.GetString("project_id"),
		ApiKey:    v.GetString("api_key"),
	}
}

func newClient(opts docopt.Opts) *canon.Client {
	client, err := canon.NewClient(loadConfig(opts))
	if err != nil {
		Err.Fatalf("%s", err)
	}
	return client
}

func pathArg(opts docopt.Opts) string {
	if path, err := opts.String("<path>"); err == nil && path != "" {
		return path
	}
	return "/"
}

func get(opts docopt.Opts) {
	client := newClient(opts)
	defer client.Close()

	path := pathArg(opts)

	getOpts := canon.DefaultGetOptions()
	if envelope, _ := opts.Bool("--envelope"); envelope {
		getOpts.Format = canon.StateFormatEnvelope
	}

	value, err := client.State.GetSync(context.Background(), path, getOpts)
	if err != nil {
		Err.Fatalf("%s", err)
	}
	printValue(value)
}

// fetches the whole document and selects locally
func selectPath(opts docopt.Opts) {
	client := newClient(opts)
	defer client.Close()

	path := pathArg(opts)

	document, err := client.State.GetSync(context.Background(), "/", canon.DefaultGetOptions())
	if err != nil {
		Err.Fatalf("%s", err)
	}
	value, found, err := client.State.Select(document, path)
	if err != nil {
		Err.Fatalf("%s", err)
	}
	if !found {
		Err.Fatalf("Not found: %s", path)
	}
	printValue(value)
}

func subscribeOptions(opts docopt.Opts) *canon.SubscribeOptions {
	subscribeOpts := canon.DefaultSubscribeOptions()
	if noReconnect, _ := opts.Bool("--no_reconnect"); noReconnect {
		subscribeOpts.NoReconnect = true
	}
	if maxDelayMillis, err := opts.Int("--max_delay"); err == nil && 0 < maxDelayMillis {
		subscribeOpts.ReconnectMaxDelay = time.Duration(maxDelayMillis) * time.Millisecond
	}
	return subscribeOpts
}

func subscribe(opts docopt.Opts) {
	client := newClient(opts)
	defer client.Close()

	messageCount := -1
	if messageCount_, err := opts.Int("--message_count"); err == nil {
		messageCount = messageCount_
	}

	done := make(chan struct{})
	count := 0
	unsubscribe := client.State.Subscribe(func(message canon.StateMessage) {
		messageBytes, err := canon.EncodeMessage(message)
		if err != nil {
			Err.Printf("%s", err)
			return
		}
		Out.Printf("%s", messageBytes)
		count += 1
		if 0 <= messageCount && messageCount <= count {
			select {
			case <-done:
			default:
				close(done)
			}
		}
	}, subscribeOptions(opts))
	defer unsubscribe()

	waitForDone(done)
}

// mirrors the document and prints the value at the path on each change
func watch(opts docopt.Opts) {
	client := newClient(opts)
	defer client.Close()

	path := pathArg(opts)

	mirror := canon.NewStateMirrorWithCallback(func(document canon.Value, cursor *canon.Cursor) {
		value, found, err := canon.Select(document, path)
		if err != nil {
			Err.Printf("%s", err)
			return
		}
		if !found {
			Err.Printf("[%s] not found: %s", cursor, path)
			return
		}
		Err.Printf("[%s]", cursor)
		printValue(value)
	})
	unsubscribe := client.State.SubscribeMirror(mirror, subscribeOptions(opts))
	defer unsubscribe()

	waitForDone(make(chan struct{}))
}

func keyInfo(opts docopt.Opts) {
	config := loadConfig(opts)
	claims, err := canon.ParseApiKeyUnverified(config.ApiKey)
	if err != nil {
		Err.Fatalf("Api key is not a jwt: %s", err)
	}
	out := map[string]any{
		"project_id": claims.ProjectId,
		"subject":    claims.Subject,
		"expired":    claims.Expired(time.Now()),
	}
	if !claims.ExpiresAt.IsZero() {
		out["expires_at"] = claims.ExpiresAt.Format(time.RFC3339)
	}
	printValue(canon.MustNewValue(out))
}

func waitForDone(done chan struct{}) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	select {
	case <-done:
	case <-signals:
		Err.Printf("Shutting down...")
	}
}

func printValue(value canon.Value) {
	var valueBytes []byte
	var err error
	if term.IsTerminal(int(os.Stdout.Fd())) {
		valueBytes, err = json.MarshalIndent(value, "", "  ")
	} else {
		valueBytes, err = json.Marshal(value)
	}
	if err != nil {
		Err.Fatalf("%s", err)
	}
	Out.Printf("%s", valueBytes)
}
