package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/meshwork-ai/a2a-go/a2a"
	"github.com/meshwork-ai/a2a-go/client"
)

var (
	agentURL     = flag.String("url", "http://localhost:8080", "Base URL of the A2A agent")
	rpcPath      = flag.String("rpc-path", "/a2a", "Path of the JSON-RPC endpoint")
	bearerToken  = flag.String("token", "", "Bearer token for authentication")
	outputFormat = flag.String("output", "pretty", "Output format (json, pretty)")
	timeout      = flag.Duration("timeout", 30*time.Second, "Request timeout for non-streaming calls")
)

func main() {
	flag.Parse()

	if flag.NArg() == 0 {
		printUsage()
		os.Exit(1)
	}

	opts := []client.Option{
		client.WithBaseURL(*agentURL),
		client.WithRPCPath(*rpcPath),
		client.WithTimeout(*timeout),
	}
	if *bearerToken != "" {
		opts = append(opts, client.WithBearerToken(*bearerToken))
	}
	c, err := client.New(opts...)
	if err != nil {
		fatal("failed to create client: %v", err)
	}

	switch cmd := flag.Arg(0); cmd {
	case "send":
		runSend(c, flag.Args()[1:])
	case "get":
		runGet(c, flag.Args()[1:])
	case "cancel":
		runCancel(c, flag.Args()[1:])
	case "subscribe":
		runSubscribe(c, flag.Args()[1:])
	case "push":
		runPush(c, flag.Args()[1:])
	case "query":
		runQuery(c, flag.Args()[1:])
	case "update":
		runUpdate(c, flag.Args()[1:])
	case "watch":
		runWatch(c, flag.Args()[1:])
	case "card":
		runCard(c)
	default:
		fatal("unknown command: %s", cmd)
	}
}

func runSend(c *client.Client, args []string) {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	message := fs.String("message", "", "Message text to send")
	file := fs.String("file", "", "File containing the message text")
	taskID := fs.String("task", "", "Task ID (defaults to a new UUID)")
	sessionID := fs.String("session", "", "Session ID")
	history := fs.Int("history", 0, "Number of history messages to return")
	stream := fs.Bool("stream", false, "Stream task updates over SSE")
	fs.Parse(args)

	text := *message
	if text == "" && *file != "" {
		data, err := os.ReadFile(*file)
		if err != nil {
			fatal("failed to read file: %v", err)
		}
		text = string(data)
	}
	if text == "" {
		fatal("either -message or -file must be specified")
	}

	id := *taskID
	if id == "" {
		id = uuid.NewString()
	}
	params := &a2a.TaskSendParams{
		ID: id,
		Message: a2a.Message{
			Role:  a2a.RoleUser,
			Parts: []a2a.Part{a2a.NewTextPart(text)},
		},
	}
	if *sessionID != "" {
		params.SessionID = sessionID
	}
	if *history > 0 {
		params.HistoryLength = history
	}

	if *stream {
		ctx, cancel := signalContext()
		defer cancel()
		updates, errs := c.SendTaskSubscribe(ctx, params)
		consumeTaskStream(updates, errs)
		return
	}

	task, err := c.SendTask(context.Background(), params)
	if err != nil {
		fatal("tasks/send failed: %v", err)
	}
	printTask(task)
}

func runGet(c *client.Client, args []string) {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	taskID := fs.String("task", "", "Task ID")
	history := fs.Int("history", 0, "Number of history messages to return")
	fs.Parse(args)

	if *taskID == "" {
		fatal("task ID must be specified")
	}
	params := &a2a.TaskQueryParams{ID: *taskID}
	if *history > 0 {
		params.HistoryLength = history
	}
	task, err := c.GetTask(context.Background(), params)
	if err != nil {
		fatal("tasks/get failed: %v", err)
	}
	printTask(task)
}

func runCancel(c *client.Client, args []string) {
	fs := flag.NewFlagSet("cancel", flag.ExitOnError)
	taskID := fs.String("task", "", "Task ID")
	fs.Parse(args)

	if *taskID == "" {
		fatal("task ID must be specified")
	}
	task, err := c.CancelTask(context.Background(), *taskID)
	if err != nil {
		fatal("tasks/cancel failed: %v", err)
	}
	printTask(task)
}

func runSubscribe(c *client.Client, args []string) {
	fs := flag.NewFlagSet("subscribe", flag.ExitOnError)
	taskID := fs.String("task", "", "Task ID")
	fs.Parse(args)

	if *taskID == "" {
		fatal("task ID must be specified")
	}
	ctx, cancel := signalContext()
	defer cancel()
	updates, errs := c.Resubscribe(ctx, *taskID)
	consumeTaskStream(updates, errs)
}

func runPush(c *client.Client, args []string) {
	fs := flag.NewFlagSet("push", flag.ExitOnError)
	taskID := fs.String("task", "", "Task ID")
	url := fs.String("url", "", "Webhook URL to deliver events to")
	token := fs.String("token", "", "Bearer token sent with each delivery")
	get := fs.Bool("get", false, "Get the current configuration instead of setting one")
	fs.Parse(args)

	if *taskID == "" {
		fatal("task ID must be specified")
	}

	if *get {
		config, err := c.GetPushNotification(context.Background(), *taskID)
		if err != nil {
			fatal("tasks/pushNotification/get failed: %v", err)
		}
		if config == nil {
			fmt.Println("no push notification configuration registered")
			return
		}
		printJSON(config)
		return
	}

	if *url == "" {
		fatal("webhook URL must be specified")
	}
	config := &a2a.TaskPushNotificationConfig{
		ID: *taskID,
		PushNotificationConfig: a2a.PushNotificationConfig{
			URL: *url,
		},
	}
	if *token != "" {
		config.PushNotificationConfig.Token = token
	}
	result, err := c.SetPushNotification(context.Background(), config)
	if err != nil {
		fatal("tasks/pushNotification/set failed: %v", err)
	}
	printJSON(result)
}

func runQuery(c *client.Client, args []string) {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	query := fs.String("query", "", "Knowledge graph query")
	certainty := fs.Float64("certainty", 0, "Minimum certainty (0 disables the filter)")
	maxAge := fs.Int("max-age", 0, "Maximum statement age in seconds (0 disables the filter)")
	fs.Parse(args)

	if *query == "" {
		fatal("query must be specified")
	}
	params := &a2a.KnowledgeQueryParams{Query: *query}
	if *certainty > 0 {
		params.RequiredCertainty = certainty
	}
	if *maxAge > 0 {
		params.MaxAgeSeconds = maxAge
	}
	result, err := c.KnowledgeQuery(context.Background(), params)
	if err != nil {
		fatal("knowledge/query failed: %v", err)
	}
	printJSON(result)
}

func runUpdate(c *client.Client, args []string) {
	fs := flag.NewFlagSet("update", flag.ExitOnError)
	file := fs.String("file", "", "File containing a JSON array of patch operations")
	justification := fs.String("justification", "", "Justification recorded with the mutation")
	fs.Parse(args)

	if *file == "" {
		fatal("mutation file must be specified")
	}
	data, err := os.ReadFile(*file)
	if err != nil {
		fatal("failed to read mutation file: %v", err)
	}
	var mutations []a2a.KnowledgeGraphPatch
	if err := json.Unmarshal(data, &mutations); err != nil {
		fatal("failed to parse mutations: %v", err)
	}

	params := &a2a.KnowledgeUpdateParams{Mutations: mutations}
	if *justification != "" {
		params.Justification = justification
	}
	result, err := c.KnowledgeUpdate(context.Background(), params)
	if err != nil {
		fatal("knowledge/update failed: %v", err)
	}
	printJSON(result)
}

func runWatch(c *client.Client, args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	query := fs.String("query", "", "Subscription query")
	fs.Parse(args)

	if *query == "" {
		fatal("query must be specified")
	}
	ctx, cancel := signalContext()
	defer cancel()

	events, errs := c.KnowledgeSubscribe(ctx, &a2a.KnowledgeSubscribeParams{
		SubscriptionQuery: *query,
	})
	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			printJSON(event)
		case err, ok := <-errs:
			if ok && err != nil {
				fatal("subscription error: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func runCard(c *client.Client) {
	card, err := c.FetchAgentCard(context.Background())
	if err != nil {
		fatal("failed to fetch agent card: %v", err)
	}
	printJSON(card)
}

func consumeTaskStream(updates <-chan client.TaskUpdate, errs <-chan error) {
	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return
			}
			printTaskUpdate(update)
		case err, ok := <-errs:
			if ok && err != nil {
				fatal("stream error: %v", err)
			}
		}
	}
}

func printTask(task *a2a.Task) {
	if *outputFormat == "json" {
		printJSON(task)
		return
	}
	fmt.Printf("Task ID: %s\n", task.ID)
	if task.SessionID != nil {
		fmt.Printf("Session ID: %s\n", *task.SessionID)
	}
	fmt.Printf("Status: %s (%s)\n", task.Status.State, task.Status.Timestamp.Format(time.RFC3339))
	if task.Status.Message != nil {
		fmt.Printf("Message: %s\n", messageText(task.Status.Message))
	}
	for i, msg := range task.History {
		fmt.Printf("  history[%d] %s: %s\n", i, msg.Role, messageText(&msg))
	}
	for i, artifact := range task.Artifacts {
		name := ""
		if artifact.Name != nil {
			name = *artifact.Name
		}
		fmt.Printf("  artifact[%d] %s (%d parts)\n", i, name, len(artifact.Parts))
	}
}

func printTaskUpdate(update client.TaskUpdate) {
	if *outputFormat == "json" {
		printJSON(update)
		return
	}
	switch {
	case update.Status != nil:
		fmt.Printf("status: %s final=%t\n", update.Status.Status.State, update.Status.Final)
		if update.Status.Status.Message != nil {
			fmt.Printf("  %s\n", messageText(update.Status.Status.Message))
		}
	case update.Artifact != nil:
		name := ""
		if update.Artifact.Artifact.Name != nil {
			name = *update.Artifact.Artifact.Name
		}
		fmt.Printf("artifact: %s (%d parts)\n", name, len(update.Artifact.Artifact.Parts))
	}
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fatal("failed to marshal output: %v", err)
	}
	fmt.Println(string(data))
}

func messageText(msg *a2a.Message) string {
	for _, part := range msg.Parts {
		if text, ok := part.(a2a.TextPart); ok {
			return text.Text
		}
	}
	return "[no text content]"
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx, cancel
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func printUsage() {
	fmt.Println("Usage: a2a-client [options] <command> [command options]")
	fmt.Println("Options:")
	flag.PrintDefaults()
	fmt.Println("\nCommands:")
	fmt.Println("  send        Send a task (-stream to follow updates)")
	fmt.Println("  get         Get a task by ID")
	fmt.Println("  cancel      Cancel a task")
	fmt.Println("  subscribe   Resubscribe to a task's update stream")
	fmt.Println("  push        Set or get push notification configuration")
	fmt.Println("  query       Query the knowledge graph")
	fmt.Println("  update      Apply knowledge graph mutations from a file")
	fmt.Println("  watch       Subscribe to knowledge graph changes")
	fmt.Println("  card        Fetch the agent card")
}
