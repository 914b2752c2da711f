package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"

	"github.com/OutllierRejects/reliefops/internal/client"
)

var (
	app       = kingpin.New("reliefops", "Command line client for the ReliefOps coordination server")
	serverURL = app.Flag("server", "Server base URL").Envar("RELIEFOPS_SERVER").Default("http://localhost:3100").String()
	apiKey    = app.Flag("api-key", "API key").Envar("RELIEFOPS_API_KEY").Required().String()
	jsonOut   = app.Flag("json", "Print raw JSON").Bool()

	// Request commands
	submitCmd         = app.Command("submit", "Submit a request for help")
	submitTitle       = submitCmd.Arg("title", "Short title").Required().String()
	submitDescription = submitCmd.Arg("description", "What happened and what is needed").Required().String()
	submitLocation    = submitCmd.Flag("location", "Where help is needed").String()
	submitName        = submitCmd.Flag("name", "Requester name").String()
	submitEmail       = submitCmd.Flag("email", "Requester email").String()
	submitPhone       = submitCmd.Flag("phone", "Requester phone").String()
	submitChannels    = submitCmd.Flag("channel", "Preferred notification channel, repeatable").Strings()

	showCmd  = app.Command("show", "Show a request")
	showID   = showCmd.Arg("id", "Request ID").Required().String()
	showLogs = showCmd.Flag("logs", "Include the stage log").Bool()

	listCmd      = app.Command("list", "List requests")
	listStatus   = listCmd.Flag("status", "Filter by status").String()
	listPriority = listCmd.Flag("priority", "Filter by priority").String()
	listLimit    = listCmd.Flag("limit", "Page size").Default("50").Int()

	resubmitCmd   = app.Command("resubmit", "Run the pipeline again for a request")
	resubmitID    = resubmitCmd.Arg("id", "Request ID").Required().String()
	resubmitAsync = resubmitCmd.Flag("async", "Queue the run instead of waiting").Bool()

	approveCmd = app.Command("approve", "Approve a request held for review")
	approveID  = approveCmd.Arg("id", "Request ID").Required().String()

	cancelCmd    = app.Command("cancel", "Cancel a request")
	cancelID     = cancelCmd.Arg("id", "Request ID").Required().String()
	cancelReason = cancelCmd.Flag("reason", "Why the request is cancelled").String()

	// Pipeline commands
	statsCmd          = app.Command("stats", "Show background processing statistics")
	processPendingCmd = app.Command("process-pending", "Queue every unfinished request")

	// Resource commands
	resourcesCmd        = app.Command("resources", "Resource management commands")
	resourcesListCmd    = resourcesCmd.Command("list", "List resources")
	resourcesCapability = resourcesListCmd.Flag("capability", "Filter by capability").String()
	resourcesStatus     = resourcesListCmd.Flag("status", "Filter by status").String()

	resourcesAddCmd          = resourcesCmd.Command("add", "Add a resource")
	resourcesAddID           = resourcesAddCmd.Arg("id", "Resource ID").Required().String()
	resourcesAddName         = resourcesAddCmd.Arg("name", "Display name").Required().String()
	resourcesAddCapabilities = resourcesAddCmd.Flag("capability", "Capability, repeatable").Required().Strings()
	resourcesAddKind         = resourcesAddCmd.Flag("kind", "personnel or equipment").Default("personnel").Enum("personnel", "equipment")
	resourcesAddLocation     = resourcesAddCmd.Flag("location", "Base location").String()
	resourcesAddExclusive    = resourcesAddCmd.Flag("exclusive", "Serve one task at a time").Bool()
	resourcesAddMax          = resourcesAddCmd.Flag("max-tasks", "Maximum concurrent tasks").Int()

	resourcesRemoveCmd = resourcesCmd.Command("remove", "Remove a resource")
	resourcesRemoveID  = resourcesRemoveCmd.Arg("id", "Resource ID").Required().String()

	resourcesSetCmd    = resourcesCmd.Command("availability", "Set a resource available or offline")
	resourcesSetID     = resourcesSetCmd.Arg("id", "Resource ID").Required().String()
	resourcesSetStatus = resourcesSetCmd.Arg("status", "available or offline").Required().Enum("available", "offline")

	// Task commands
	tasksCmd     = app.Command("tasks", "List tasks")
	tasksRequest = tasksCmd.Flag("request", "Only tasks of this request").String()
	tasksStatus  = tasksCmd.Flag("status", "Filter by status").String()

	taskStatusCmd    = app.Command("task-status", "Update the status of a task")
	taskStatusID     = taskStatusCmd.Arg("id", "Task ID").Required().String()
	taskStatusStatus = taskStatusCmd.Arg("status", "New status").Required().String()

	// Event commands
	watchCmd     = app.Command("watch", "Stream live events")
	watchRequest = watchCmd.Flag("request", "Only events of this request").String()
	watchTypes   = watchCmd.Flag("type", "Event type or family such as request.*, repeatable").Strings()

	eventsCmd     = app.Command("events", "Show recorded events of one day")
	eventsDate    = eventsCmd.Flag("date", "UTC day as YYYY-MM-DD, default today").String()
	eventsRequest = eventsCmd.Flag("request", "Only events of this request").String()
	eventsTypes   = eventsCmd.Flag("type", "Event type or family, repeatable").Strings()
	eventsLimit   = eventsCmd.Flag("limit", "Keep only the newest events").Int()
)

func main() {
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	c := client.New(*serverURL, *apiKey, nil)
	if err := run(ctx, c, command); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, c *client.Client, command string) error {
	switch command {
	case submitCmd.FullCommand():
		return handleSubmit(ctx, c)
	case showCmd.FullCommand():
		return handleShow(ctx, c)
	case listCmd.FullCommand():
		return handleList(ctx, c)
	case resubmitCmd.FullCommand():
		return handleResubmit(ctx, c)
	case approveCmd.FullCommand():
		v, err := c.Requests.Approve(ctx, *approveID)
		if err != nil {
			return err
		}
		return printRequest(v)
	case cancelCmd.FullCommand():
		v, err := c.Requests.Cancel(ctx, *cancelID, *cancelReason)
		if err != nil {
			return err
		}
		return printRequest(v)
	case statsCmd.FullCommand():
		return handleStats(ctx, c)
	case processPendingCmd.FullCommand():
		n, err := c.Pipeline.ProcessPending(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Queued %d request(s)\n", n)
		return nil
	case resourcesListCmd.FullCommand():
		return handleResourcesList(ctx, c)
	case resourcesAddCmd.FullCommand():
		return handleResourcesAdd(ctx, c)
	case resourcesRemoveCmd.FullCommand():
		if err := c.Resources.Delete(ctx, *resourcesRemoveID); err != nil {
			return err
		}
		fmt.Printf("Removed %s\n", *resourcesRemoveID)
		return nil
	case resourcesSetCmd.FullCommand():
		r, err := c.Resources.SetAvailability(ctx, *resourcesSetID, *resourcesSetStatus)
		if err != nil {
			return err
		}
		return printResources(r)
	case tasksCmd.FullCommand():
		return handleTasks(ctx, c)
	case taskStatusCmd.FullCommand():
		t, err := c.Tasks.UpdateStatus(ctx, *taskStatusID, *taskStatusStatus)
		if err != nil {
			return err
		}
		return printTasks(t)
	case watchCmd.FullCommand():
		return handleWatch(ctx, c)
	case eventsCmd.FullCommand():
		return handleEvents(ctx, c)
	}
	return fmt.Errorf("unknown command %q", command)
}
