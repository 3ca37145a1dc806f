package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/socialdistro/db"
	"github.com/deemkeen/socialdistro/federation"
	"github.com/deemkeen/socialdistro/importer"
	"github.com/deemkeen/socialdistro/stream"
	"github.com/deemkeen/socialdistro/util"
	"github.com/deemkeen/socialdistro/visibility"
	"github.com/deemkeen/socialdistro/web"
	"github.com/redis/go-redis/v9"
)

const usage = `usage: socialdistro [command] [flags]

commands:
  serve        run the node (default)
  add-node     register a peer node and its credentials
  add-author   register a local author
  nodes        list peer nodes and the delivery queue depth
  set-node     enable or disable a peer node
  inbox-log    print the most recent accepted inbox payloads
  github-import  turn local authors' public GitHub activity into entries
`

func main() {
	conf, err := util.ReadConf()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := util.NewLogger(os.Stderr, conf.Conf.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, args := "serve", os.Args[1:]
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "serve":
		err = serve(ctx, conf, logger)
	case "add-node":
		err = addNode(ctx, conf, logger, args)
	case "add-author":
		err = addAuthor(ctx, conf, logger, args)
	case "nodes":
		err = listNodes(ctx, conf, logger)
	case "set-node":
		err = setNode(ctx, conf, logger, args)
	case "inbox-log":
		err = inboxLog(ctx, conf, logger, args)
	case "github-import":
		err = githubImport(ctx, conf, logger, args)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Error("Exiting", "cmd", cmd, "err", err)
		os.Exit(1)
	}
}

func openStore(ctx context.Context, conf *util.AppConfig, logger *log.Logger) (*db.DB, error) {
	path := util.ResolveFilePath(conf.Conf.Database)
	logger.Debug("Opening database", "path", path)
	return db.Open(ctx, path, logger)
}

func serve(ctx context.Context, conf *util.AppConfig, logger *log.Logger) error {
	logger.Info("Starting", "version", util.GetNameAndVersion(), "node", conf.Conf.NodeUrl)
	logger.Debug("Configuration", "conf", util.PrettyPrint(conf.Federation))

	store, err := openStore(ctx, conf, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	registry := federation.NewRegistry(conf.Conf.NodeUrl, store, logger)
	deliverer := federation.NewDeliverer(store, registry, federation.DeliveryConfig{
		Workers:     conf.Federation.Workers,
		Timeout:     conf.Timeout(),
		MaxAttempts: conf.Federation.MaxAttempts,
		Backoff:     conf.Backoff(),
		Poll:        conf.Poll(),
	}, logger)
	// Deferred after store.Close, so it runs first and waits out the last batch.
	defer background(ctx, deliverer.Run)()

	federator := federation.NewFederator(store, deliverer, logger)
	if every := conf.GithubPoll(); every > 0 {
		github := importer.NewGitHub(conf.Conf.NodeUrl, conf.Github.ApiUrl, conf.Timeout(), store, federator, logger)
		defer background(ctx, func(ctx context.Context) { github.Run(ctx, every) })()
	}
	eval := visibility.NewEvaluator(store)
	hub := stream.NewHub(ctx, redisClient(ctx, conf, logger), logger)
	processor := federation.NewProcessor(conf.Conf.NodeUrl, store, eval, federator, hub, logger)

	server := web.NewServer(web.Options{
		Self:      conf.Conf.NodeUrl,
		Store:     store,
		Registry:  registry,
		Evaluator: eval,
		Federator: federator,
		Processor: processor,
		Hub:       hub,
		Logger:    logger,
	})
	return server.ListenAndServe(ctx, fmt.Sprintf("%s:%d", conf.Conf.Host, conf.Conf.HttpPort))
}

// background starts run in its own goroutine. The returned func cancels it and
// blocks until run has returned.
func background(ctx context.Context, run func(context.Context)) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		run(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

// redisClient returns nil when no redis is configured or reachable, in which
// case the live stream stays in process.
func redisClient(ctx context.Context, conf *util.AppConfig, logger *log.Logger) *redis.Client {
	if conf.Conf.RedisAddr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     conf.Conf.RedisAddr,
		Password: conf.Conf.RedisPassword,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("Redis unreachable, live stream stays local", "addr", conf.Conf.RedisAddr, "err", err)
		client.Close()
		return nil
	}
	return client
}

func addNode(ctx context.Context, conf *util.AppConfig, logger *log.Logger, args []string) error {
	fs := flag.NewFlagSet("add-node", flag.ContinueOnError)
	host := fs.String("host", "", "base URL of the peer node")
	outUser := fs.String("outgoing-user", "", "username we present to the peer")
	outPass := fs.String("outgoing-pass", "", "password we present to the peer")
	inUser := fs.String("incoming-user", "", "username the peer presents to us")
	inPass := fs.String("incoming-pass", "", "password the peer presents to us")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *host == "" || *inUser == "" || *inPass == "" {
		return fmt.Errorf("add-node: --host, --incoming-user and --incoming-pass are required")
	}

	store, err := openStore(ctx, conf, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := federation.NewRegistry(conf.Conf.NodeUrl, store, logger).RegisterNode(ctx, *host, *outUser, *outPass, *inUser, *inPass)
	if err != nil {
		return err
	}
	fmt.Println(n.Host)
	return nil
}

func addAuthor(ctx context.Context, conf *util.AppConfig, logger *log.Logger, args []string) error {
	fs := flag.NewFlagSet("add-author", flag.ContinueOnError)
	username := fs.String("username", "", "login name")
	password := fs.String("password", "", "login password")
	displayName := fs.String("display-name", "", "shown name, defaults to the username")
	github := fs.String("github", "", "github profile URL")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *username == "" || *password == "" {
		return fmt.Errorf("add-author: --username and --password are required")
	}

	store, err := openStore(ctx, conf, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	a, err := federation.NewRegistry(conf.Conf.NodeUrl, store, logger).RegisterAuthor(ctx, *username, *password, *displayName, *github)
	if err != nil {
		return err
	}
	fmt.Println(a.Id)
	return nil
}

func listNodes(ctx context.Context, conf *util.AppConfig, logger *log.Logger) error {
	store, err := openStore(ctx, conf, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	nodes, err := store.ReadRemoteNodes(ctx)
	if err != nil {
		return err
	}
	queued, err := store.CountDeliveries(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "HOST\tACTIVE\tOUTGOING USER\tINCOMING USER")
	for _, n := range nodes {
		fmt.Fprintf(w, "%s\t%t\t%s\t%s\n", n.Host, n.IsActive, n.OutgoingUsername, n.IncomingUsername)
	}
	w.Flush()
	fmt.Printf("\n%d deliveries queued\n", queued)
	return nil
}

func setNode(ctx context.Context, conf *util.AppConfig, logger *log.Logger, args []string) error {
	fs := flag.NewFlagSet("set-node", flag.ContinueOnError)
	host := fs.String("host", "", "base URL of the peer node")
	active := fs.Bool("active", true, "whether the node may authenticate and receive deliveries")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *host == "" {
		return fmt.Errorf("set-node: --host is required")
	}

	store, err := openStore(ctx, conf, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.SetRemoteNodeActive(ctx, *host, *active)
}

func inboxLog(ctx context.Context, conf *util.AppConfig, logger *log.Logger, args []string) error {
	fs := flag.NewFlagSet("inbox-log", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "number of payloads")
	raw := fs.Bool("raw", false, "print the raw JSON bodies")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, err := openStore(ctx, conf, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	activities, err := store.ReadRecentActivities(ctx, *limit)
	if err != nil {
		return err
	}
	for _, a := range activities {
		fmt.Printf("%s %-7s %s -> %s\n", a.CreatedAt.Format(time.RFC3339), a.ActivityType, a.ActorURI, a.ObjectURI)
		if *raw {
			fmt.Println(a.RawJSON)
		}
	}
	return nil
}

func githubImport(ctx context.Context, conf *util.AppConfig, logger *log.Logger, args []string) error {
	fs := flag.NewFlagSet("github-import", flag.ContinueOnError)
	username := fs.String("username", "", "import only this local author")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, err := openStore(ctx, conf, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	// Entries created here are queued for delivery and sent by the next serve.
	registry := federation.NewRegistry(conf.Conf.NodeUrl, store, logger)
	federator := federation.NewFederator(store, federation.NewDeliverer(store, registry, federation.DeliveryConfig{}, logger), logger)
	github := importer.NewGitHub(conf.Conf.NodeUrl, conf.Github.ApiUrl, conf.Timeout(), store, federator, logger)

	if *username == "" {
		fmt.Println(github.ImportAll(ctx))
		return nil
	}
	a, err := store.ReadAuthorByUsername(ctx, *username)
	if err != nil {
		return err
	}
	n, err := github.Import(ctx, a)
	if err != nil {
		return err
	}
	fmt.Println(n)
	return nil
}
