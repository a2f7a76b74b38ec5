package deploy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sentinelhq/sentinel/internal/artifact"
	"github.com/sentinelhq/sentinel/internal/ledger"
	"github.com/sentinelhq/sentinel/internal/logging"
	"github.com/sentinelhq/sentinel/internal/policy"
	"github.com/sentinelhq/sentinel/internal/remote"
	"github.com/sentinelhq/sentinel/internal/rules"
)

const geoIPParser = "crowdsecurity/geoip-enrich"

// Result describes one push of an application's bundle.
type Result struct {
	AppUUID     string             `json:"appUuid"`
	Server      string             `json:"server"`
	Written     []string           `json:"written"`
	Removed     []string           `json:"removed"`
	Digests     map[string]string  `json:"digests,omitempty"`
	Relocated   []string           `json:"relocated,omitempty"`
	Diagnostics []rules.Diagnostic `json:"diagnostics,omitempty"`
	Health      *HealthReport      `json:"health,omitempty"`
}

// Deploy compiles the application's full bundle and pushes it to host.
// Any failing step aborts the push for this application only. The ledger
// is written ahead with the union of old and new files, so an aborted push
// never loses track of a file it may have written.
func (o *Orchestrator) Deploy(ctx context.Context, app policy.Application, host remote.Host) (res Result, err error) {
	start := o.now()
	res = Result{AppUUID: app.UUID, Server: host.Name}
	failed := ""
	defer func() { o.finish(res, failed, err, start) }()

	set, diagnostics, buildErr := o.builder.Build(app)
	o.observeCompile(buildErr == nil, diagnostics)
	if buildErr != nil {
		failed = StepCompile
		return res, &StepError{Step: StepCompile, Err: buildErr}
	}
	res.Diagnostics = diagnostics
	for _, d := range diagnostics {
		o.log.Warn("condition skipped",
			zap.String("app", app.UUID),
			zap.String("rule", d.RuleID),
			zap.Int("condition", d.Condition),
			zap.String("dialect", string(d.Dialect)),
			zap.String("reason", d.Reason),
		)
	}

	step := func(name string, fn func() error) error {
		t := o.now()
		stepErr := fn()
		o.metrics.ObserveStep(name, o.now().Sub(t))
		if stepErr != nil {
			failed = name
			return &StepError{Step: name, Err: stepErr}
		}
		return nil
	}

	enabled := app.Firewall.Enabled
	var previous []string

	if err = step(StepValidate, func() error { return o.validate(ctx, host, set) }); err != nil {
		return res, err
	}
	if err = step(StepBootstrap, func() error { return o.bootstrap(ctx, host) }); err != nil {
		return res, err
	}
	if err = step(StepHostDocuments, func() error { return o.ensureHostDocuments(ctx, host) }); err != nil {
		return res, err
	}
	if err = step(StepRelocate, func() error {
		var rerr error
		res.Relocated, rerr = o.relocate(ctx, app.UUID, host)
		return rerr
	}); err != nil {
		return res, err
	}
	if enabled {
		if err = step(StepActivate, func() error { return o.Activate(ctx, app.UUID, host) }); err != nil {
			return res, err
		}
	}
	if err = step(StepWrite, func() error {
		var werr error
		previous, werr = o.store.Files(ctx, host.Name, app.UUID)
		if werr != nil {
			return fmt.Errorf("read ledger: %w", werr)
		}
		if werr = o.store.SaveFiles(ctx, host.Name, app.UUID, ledger.Union(previous, set.Paths())); werr != nil {
			return fmt.Errorf("write ahead ledger: %w", werr)
		}
		if werr = o.push(ctx, host, set); werr != nil {
			return werr
		}
		res.Written = set.Paths()
		res.Digests = make(map[string]string, len(set))
		for _, a := range set {
			res.Digests[a.RemotePath] = a.Digest()
		}
		return nil
	}); err != nil {
		return res, err
	}
	if err = step(StepReconcile, func() error {
		removed, rerr := o.reconcile(ctx, host, app.UUID, previous, set.Paths())
		res.Removed = removed
		return rerr
	}); err != nil {
		return res, err
	}
	if err = step(StepWireProxy, func() error {
		if enabled {
			return o.wireProxy(ctx, host, app)
		}
		if werr := o.unwireProxy(ctx, host, app.UUID); werr != nil {
			return werr
		}
		return o.Deactivate(ctx, app.UUID, host)
	}); err != nil {
		return res, err
	}
	if err = step(StepReload, func() error { return o.reloadEngine(ctx, host) }); err != nil {
		return res, err
	}
	if err = step(StepPostValidate, func() error { return o.postValidate(ctx, host, set) }); err != nil {
		return res, err
	}
	if err = step(StepHealth, func() error {
		report, herr := o.pollHealth(ctx, host)
		res.Health = &report
		return herr
	}); err != nil {
		return res, err
	}
	if err = step(StepRecord, func() error {
		return o.store.SaveFiles(ctx, host.Name, app.UUID, set.Paths())
	}); err != nil {
		return res, err
	}
	return res, nil
}

func (o *Orchestrator) finish(res Result, failed string, err error, start time.Time) {
	outcome := logging.OutcomeSuccess
	switch {
	case errors.Is(err, ErrPrerequisite):
		outcome = logging.OutcomePrerequisite
	case err != nil:
		outcome = logging.OutcomeFailed
	}
	duration := o.now().Sub(start)

	record := logging.Deployment{
		Timestamp:   o.now().UTC(),
		AppUUID:     res.AppUUID,
		Server:      res.Server,
		Outcome:     outcome,
		FailedStep:  failed,
		Written:     nonNil(res.Written),
		Removed:     nonNil(res.Removed),
		Diagnostics: len(res.Diagnostics),
		DurationMS:  duration.Milliseconds(),
	}
	if err != nil {
		record.Error = err.Error()
	}
	if jerr := o.journal.Write(record); jerr != nil {
		o.log.Warn("journal write failed", zap.Error(jerr))
	}
	o.metrics.ObserveDeployment(res.Server, outcome, failed)

	fields := []zap.Field{
		zap.String("op", "deploy"),
		zap.String("app", res.AppUUID),
		zap.String("server", res.Server),
		zap.String("outcome", outcome),
		zap.Int("written", len(res.Written)),
		zap.Int("removed", len(res.Removed)),
		zap.Duration("duration", duration),
	}
	if len(res.Relocated) > 0 {
		fields = append(fields, zap.Strings("relocated_from", res.Relocated))
	}
	if err != nil {
		o.log.Error("deployment failed", append(fields, zap.String("step", failed), zap.Error(err))...)
		return
	}
	o.log.Info("deployment complete", fields...)
}

func (o *Orchestrator) observeCompile(ok bool, diagnostics []rules.Diagnostic) {
	counts := map[string]int{}
	for _, d := range diagnostics {
		counts[string(d.Dialect)]++
	}
	o.metrics.ObserveCompile(ok, counts)
}

func (o *Orchestrator) validate(ctx context.Context, host remote.Host, set artifact.Set) error {
	state, known, err := o.store.Server(ctx, host.Name)
	if err != nil {
		return fmt.Errorf("read server state: %w", err)
	}
	if !known || !state.Installed || !state.Available {
		up, err := o.containerUp(ctx, host, o.opts.Engine.Container)
		if err != nil {
			return err
		}
		if !up {
			return prerequisite("engine is not installed or not running on %s", host.Name)
		}
	}
	if artifact.HasGeo(set) {
		return o.ensureGeoIP(ctx, host)
	}
	return nil
}

// ensureGeoIP checks the enrichment parser that country conditions depend on
// and installs it when allowed.
func (o *Orchestrator) ensureGeoIP(ctx context.Context, host remote.Host) error {
	present, err := o.geoIPPresent(ctx, host)
	if err != nil {
		return err
	}
	if present {
		return nil
	}
	if !o.opts.Engine.AutoInstallGeoIP {
		return prerequisite("%s is not installed on %s", geoIPParser, host.Name)
	}
	if _, err := o.run(ctx, host, "install_geoip", o.cscli("parsers install "+geoIPParser)); err != nil {
		return err
	}
	present, err = o.geoIPPresent(ctx, host)
	if err != nil {
		return err
	}
	if !present {
		return prerequisite("%s is still missing on %s after install", geoIPParser, host.Name)
	}
	return nil
}

func (o *Orchestrator) geoIPPresent(ctx context.Context, host remote.Host) (bool, error) {
	out, err := o.run(ctx, host, "list_parsers", o.cscli("parsers list -o raw"))
	if err != nil {
		return false, err
	}
	return strings.Contains(out, geoIPParser), nil
}

func (o *Orchestrator) bootstrap(ctx context.Context, host remote.Host) error {
	dirs := append(o.layout.Dirs(), o.opts.Proxy.DynamicDir)
	quoted := make([]string, 0, len(dirs))
	for _, d := range dirs {
		quoted = append(quoted, remote.Quote(d))
	}
	_, err := o.run(ctx, host, "bootstrap",
		"mkdir -p "+strings.Join(quoted, " "),
		fmt.Sprintf("chown -R %s %s", remote.Quote(o.opts.Engine.Owner), remote.Quote(o.layout.Root)),
	)
	return err
}

// ensureHostDocuments writes the shared parsers and acquisition only when
// a host lacks them, so app pushes never fight over shared files.
func (o *Orchestrator) ensureHostDocuments(ctx context.Context, host remote.Host) error {
	docs, err := o.builder.HostDocuments()
	if err != nil {
		return err
	}
	var missing artifact.Set
	for _, doc := range docs {
		out, err := o.run(ctx, host, "check_file",
			fmt.Sprintf("test -f %s && echo present || echo missing", remote.Quote(doc.RemotePath)))
		if err != nil {
			return err
		}
		if strings.TrimSpace(out) == "missing" {
			missing = append(missing, doc)
		}
	}
	return o.push(ctx, host, missing)
}

// relocate clears the application off every other server the ledger still
// places it on: its files, its proxy wiring and its bouncer. The bouncer
// credential belongs to the old engine, so Activate issues a new one. A
// server that is no longer configured is only forgotten.
func (o *Orchestrator) relocate(ctx context.Context, appUUID string, host remote.Host) ([]string, error) {
	servers, err := o.store.Placements(ctx, appUUID)
	if err != nil {
		return nil, err
	}
	var moved []string
	for _, name := range servers {
		if name == host.Name {
			continue
		}
		var old remote.Host
		known := false
		if o.hosts != nil {
			old, known = o.hosts(name)
		}
		if known {
			if err := o.evacuate(ctx, old, appUUID); err != nil {
				return moved, fmt.Errorf("clear previous server %s: %w", name, err)
			}
		} else {
			o.log.Warn("previous server not configured, forgetting its files",
				zap.String("app", appUUID), zap.String("server", name))
			if err := o.store.DeleteCredential(ctx, appUUID); err != nil {
				return moved, err
			}
		}
		if err := o.store.SaveFiles(ctx, name, appUUID, nil); err != nil {
			return moved, err
		}
		moved = append(moved, name)
	}
	return moved, nil
}

func (o *Orchestrator) evacuate(ctx context.Context, old remote.Host, appUUID string) error {
	files, err := o.store.Files(ctx, old.Name, appUUID)
	if err != nil {
		return err
	}
	if _, err := o.reconcile(ctx, old, appUUID, files, nil); err != nil {
		return err
	}
	if err := o.unwireProxy(ctx, old, appUUID); err != nil {
		return err
	}
	if err := o.Deactivate(ctx, appUUID, old); err != nil {
		return err
	}
	return o.reloadEngine(ctx, old)
}

// reconcile removes files this application deployed before that are not in
// the new bundle. Paths outside the application's own files are ignored.
func (o *Orchestrator) reconcile(ctx context.Context, host remote.Host, appUUID string, previous, next []string) ([]string, error) {
	var stale []string
	for _, p := range ledger.Difference(previous, next) {
		if o.layout.Owns(appUUID, p) {
			stale = append(stale, p)
		} else {
			o.log.Warn("ledger path not owned by application, leaving it", zap.String("app", appUUID), zap.String("path", p))
		}
	}
	if len(stale) == 0 {
		return nil, nil
	}
	quoted := make([]string, 0, len(stale))
	for _, p := range stale {
		quoted = append(quoted, remote.Quote(p))
	}
	if _, err := o.run(ctx, host, "remove_stale", "rm -f "+strings.Join(quoted, " ")); err != nil {
		return nil, err
	}
	return stale, nil
}

func (o *Orchestrator) postValidate(ctx context.Context, host remote.Host, set artifact.Set) error {
	up, err := o.containerUp(ctx, host, o.opts.Engine.Container)
	if err != nil {
		return err
	}
	if !up {
		return fmt.Errorf("engine container %s is not running after reload", o.opts.Engine.Container)
	}

	var names []string
	for _, a := range set {
		if a.Kind == artifact.KindScenario {
			names = append(names, a.Name)
		}
	}
	if len(names) == 0 {
		return nil
	}
	out, err := o.run(ctx, host, "list_scenarios", o.cscli("scenarios list -o raw"))
	if err != nil {
		return err
	}
	loaded := listedNames(out)
	var missing []string
	for _, n := range names {
		if !loaded[n] {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("scenarios not loaded by engine: %s", strings.Join(missing, ", "))
	}
	return nil
}

// listedNames reads the first column of cscli's raw list output.
func listedNames(out string) map[string]bool {
	names := map[string]bool{}
	for _, line := range strings.Split(out, "\n") {
		name, _, _ := strings.Cut(strings.TrimSpace(line), ",")
		if name = strings.TrimSpace(name); name != "" && name != "name" {
			names[name] = true
		}
	}
	return names
}

func (o *Orchestrator) pollHealth(ctx context.Context, host remote.Host) (HealthReport, error) {
	var report HealthReport
	for attempt := 1; attempt <= o.opts.Deploy.HealthAttempts; attempt++ {
		report = o.Health(ctx, host)
		if report.Healthy {
			return report, nil
		}
		if attempt == o.opts.Deploy.HealthAttempts {
			break
		}
		if err := o.sleep(ctx, o.opts.Deploy.HealthInterval); err != nil {
			return report, err
		}
	}
	return report, fmt.Errorf("server %s unhealthy after %d attempts: %s", host.Name, o.opts.Deploy.HealthAttempts, report.Failures())
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
