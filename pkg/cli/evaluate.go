package cli

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/pinaka/pkg/bootstrap"
	"github.com/platinummonkey/pinaka/pkg/config"
	"github.com/platinummonkey/pinaka/pkg/rbac"
)

func newEvaluateCommand() *Command {
	return &Command{
		Name:        "evaluate",
		Description: "Evaluate a permission against a server or a local matrix",
		Flags:       flag.NewFlagSet("evaluate", flag.ExitOnError),
		Run:         runEvaluate,
	}
}

func runEvaluate(args []string) error {
	flags := flag.NewFlagSet("evaluate", flag.ContinueOnError)
	api := addServerFlags(flags)
	local := flags.Bool("local", false, "Evaluate against a local matrix instead of the server")
	matrixFile := flags.String("matrix", "", "Matrix file for -local (defaults to the built-in matrix)")
	roles := flags.String("roles", "", "Comma-separated roles to evaluate")
	category := flags.String("category", "", "Permission category")
	resource := flags.String("resource", "", "Resource name")
	action := flags.String("action", "", "Action")
	requester := flags.String("requester", "", "Requesting user id")
	owner := flags.String("owner", "", "Owner of the target record")
	granted := flags.String("granted", "", "Granted scopes as level=id,level=id")
	target := flags.String("target", "", "Target scope as level=id,level=id")
	values := flags.String("values", "", "Threshold values as name=number,...")
	thresholds := flags.String("thresholds", "", "Named limits for -local as name=number,...")
	at := flags.String("at", "", "Evaluation time (RFC 3339)")
	if err := flags.Parse(args); err != nil {
		return err
	}

	principal := rbac.Principal{UserID: *requester}
	for _, role := range strings.Split(*roles, ",") {
		if role = strings.TrimSpace(role); role != "" {
			principal.Roles = append(principal.Roles, rbac.RoleName(strings.ToUpper(role)))
		}
	}
	if len(principal.Roles) == 0 || *resource == "" || *category == "" || *action == "" {
		return fmt.Errorf("-roles, -category, -resource and -action are required")
	}

	ec := rbac.EvalContext{RequesterID: *requester, TargetOwnerID: *owner}
	var err error
	if ec.Values, err = config.ParseThresholds(*values); err != nil {
		return err
	}
	if ec.GrantedScopes, err = parseGrantedScopes(*granted); err != nil {
		return err
	}
	if ec.TargetScope, err = parseTargetScope(*target); err != nil {
		return err
	}
	if *at != "" {
		if ec.Now, err = time.Parse(time.RFC3339, *at); err != nil {
			return fmt.Errorf("invalid -at: %w", err)
		}
	}

	req := rbac.EvaluateRequest{
		Principal: &principal,
		Category:  rbac.Category(strings.ToUpper(*category)),
		Resource:  *resource,
		Action:    rbac.Action(strings.ToUpper(*action)),
		Context:   ec,
	}

	var decision rbac.Decision
	if *local {
		limits, err := config.ParseThresholds(*thresholds)
		if err != nil {
			return err
		}
		decision, err = evaluateLocal(context.Background(), *matrixFile, limits, req)
		if err != nil {
			return err
		}
	} else if err := api.client().do("POST", "/rbac/evaluate", req, &decision); err != nil {
		return err
	}

	return printJSON(decision)
}

// evaluateLocal seeds an in-memory store from a matrix and evaluates against it
func evaluateLocal(ctx context.Context, matrixFile string, thresholds map[string]float64, req rbac.EvaluateRequest) (rbac.Decision, error) {
	matrix, err := loadMatrixFlag(matrixFile)
	if err != nil {
		return rbac.Decision{}, err
	}

	store := rbac.NewMemoryStore()
	if err := bootstrap.New(store, nil, matrix).Initialize(ctx, false); err != nil {
		return rbac.Decision{}, err
	}

	evaluator := rbac.NewEvaluator(store, rbac.WithThresholds(thresholds))
	return evaluator.EvaluatePrincipal(ctx, *req.Principal, req.Category, req.Resource, req.Action, req.Context)
}

func parseKeyValues(s string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			return nil, fmt.Errorf("malformed pair %q (want key=value)", pair)
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out, nil
}

func parseGrantedScopes(s string) (map[rbac.ScopeLevel][]string, error) {
	out := make(map[rbac.ScopeLevel][]string)
	for _, pair := range strings.Split(s, ",") {
		pairs, err := parseKeyValues(pair)
		if err != nil {
			return nil, err
		}
		for level, id := range pairs {
			out[rbac.ScopeLevel(level)] = append(out[rbac.ScopeLevel(level)], id)
		}
	}
	return out, nil
}

func parseTargetScope(s string) (map[rbac.ScopeLevel]string, error) {
	pairs, err := parseKeyValues(s)
	if err != nil {
		return nil, err
	}
	out := make(map[rbac.ScopeLevel]string, len(pairs))
	for level, id := range pairs {
		out[rbac.ScopeLevel(level)] = id
	}
	return out, nil
}
