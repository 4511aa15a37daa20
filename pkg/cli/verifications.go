package cli

import (
	"flag"
	"fmt"
	"net/url"
	"strings"
	"text/tabwriter"

	"github.com/platinummonkey/pinaka/pkg/rbac"
	"github.com/platinummonkey/pinaka/pkg/verification"
)

func newListVerificationsCommand() *Command {
	return &Command{
		Name:        "list-verifications",
		Description: "List verifications on a server",
		Flags:       flag.NewFlagSet("list-verifications", flag.ExitOnError),
		Run:         runListVerifications,
	}
}

func runListVerifications(args []string) error {
	flags := flag.NewFlagSet("list-verifications", flag.ContinueOnError)
	api := addServerFlags(flags)
	status := flags.String("status", "", "Filter by status")
	vtype := flags.String("type", "", "Filter by verification type")
	assignee := flags.String("assignee", "", "Filter by assignee id")
	assigneeRole := flags.String("assignee-role", "", "Filter by assignee role")
	entityType := flags.String("entity-type", "", "List every verification of one entity (with -entity-id)")
	entityID := flags.String("entity-id", "", "Entity id")
	limit := flags.Int("limit", verification.DefaultPageSize, "Page size")
	offset := flags.Int("offset", 0, "Page offset")
	asJSON := flags.Bool("json", false, "Print JSON")
	if err := flags.Parse(args); err != nil {
		return err
	}

	q := url.Values{}
	set := func(key, value string) {
		if value != "" {
			q.Set(key, value)
		}
	}
	set("status", strings.ToUpper(*status))
	set("type", strings.ToUpper(*vtype))
	set("assignee_id", *assignee)
	set("assignee_role", strings.ToUpper(*assigneeRole))
	set("entity_type", *entityType)
	set("entity_id", *entityID)
	q.Set("limit", fmt.Sprint(*limit))
	q.Set("offset", fmt.Sprint(*offset))

	var list []verification.Verification
	if err := api.client().do("GET", "/verifications?"+q.Encode(), nil, &list); err != nil {
		return err
	}
	if *asJSON {
		return printJSON(list)
	}

	w := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tENTITY\tSTATUS\tASSIGNEE\tDUE")
	for _, v := range list {
		assignee := "-"
		if v.Assignee != nil {
			assignee = partyLabel(*v.Assignee)
		}
		due := "-"
		if v.DueDate != nil {
			due = v.DueDate.Format("2006-01-02")
		}
		fmt.Fprintf(w, "%s\t%s\t%s/%s\t%s\t%s\t%s\n", v.ID, v.Type, v.EntityType, v.EntityID, v.Status, assignee, due)
	}
	return w.Flush()
}

func partyLabel(p verification.Party) string {
	switch {
	case p.ID != "" && p.Role != "":
		return fmt.Sprintf("%s (%s)", p.ID, p.Role)
	case p.ID != "":
		return p.ID
	}
	return string(p.Role)
}

func newVerifyCommand() *Command {
	return &Command{
		Name:        "verify",
		Description: "Approve a pending verification",
		Flags:       flag.NewFlagSet("verify", flag.ExitOnError),
		Run:         func(args []string) error { return runDecision("verify", args) },
	}
}

func newRejectCommand() *Command {
	return &Command{
		Name:        "reject",
		Description: "Reject a pending verification",
		Flags:       flag.NewFlagSet("reject", flag.ExitOnError),
		Run:         func(args []string) error { return runDecision("reject", args) },
	}
}

func runDecision(decision string, args []string) error {
	flags := flag.NewFlagSet(decision, flag.ContinueOnError)
	api := addServerFlags(flags)
	id := flags.String("id", "", "Verification id")
	actorRole := flags.String("actor-role", "", "Role of the deciding user (defaults to -role-header)")
	notes := flags.String("notes", "", "Review notes")
	reason := flags.String("reason", "", "Rejection reason")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return fmt.Errorf("-id is required")
	}
	if decision == "reject" && strings.TrimSpace(*reason) == "" {
		return fmt.Errorf("-reason is required")
	}

	req := verification.DecisionRequest{Notes: *notes, Reason: *reason}
	if *api.userID != "" {
		role := *actorRole
		if role == "" {
			role = *api.role
		}
		req.Actor = &verification.Party{ID: *api.userID, Role: rbac.RoleName(strings.ToUpper(role))}
	}

	var v verification.Verification
	if err := api.client().do("POST", "/verifications/"+url.PathEscape(*id)+"/"+decision, req, &v); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Verification %s is now %s\n", v.ID, v.Status)
	return nil
}

func newHistoryCommand() *Command {
	return &Command{
		Name:        "history",
		Description: "Show the audit history of a verification",
		Flags:       flag.NewFlagSet("history", flag.ExitOnError),
		Run:         runHistory,
	}
}

func runHistory(args []string) error {
	flags := flag.NewFlagSet("history", flag.ContinueOnError)
	api := addServerFlags(flags)
	id := flags.String("id", "", "Verification id")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return fmt.Errorf("-id is required")
	}

	var entries []verification.HistoryEntry
	if err := api.client().do("GET", "/verifications/"+url.PathEscape(*id)+"/history", nil, &entries); err != nil {
		return err
	}

	w := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "AT\tACTION\tACTOR\tFROM\tTO\tNOTE")
	for _, e := range entries {
		from := string(e.PreviousStatus)
		if from == "" {
			from = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", e.CreatedAt.Format("2006-01-02T15:04:05Z07:00"), e.Action, partyLabel(e.Actor), from, e.NewStatus, e.Note)
	}
	return w.Flush()
}
