package deploy

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sentinelhq/sentinel/internal/ledger"
	"github.com/sentinelhq/sentinel/internal/remote"
	"github.com/sentinelhq/sentinel/internal/rules"
)

const composeFile = "docker-compose.yml"

// ComposeFile is the subset of the compose format used to run the engine.
type ComposeFile struct {
	Services map[string]ComposeService `yaml:"services"`
	Networks map[string]ComposeNetwork `yaml:"networks"`
}

type ComposeService struct {
	Image         string            `yaml:"image"`
	ContainerName string            `yaml:"container_name"`
	Restart       string            `yaml:"restart"`
	Environment   map[string]string `yaml:"environment"`
	Volumes       []string          `yaml:"volumes"`
	Ports         []string          `yaml:"ports"`
	Networks      []string          `yaml:"networks"`
}

type ComposeNetwork struct {
	External bool `yaml:"external"`
}

// BuildCompose renders the compose document for the engine container.
func (o *Orchestrator) BuildCompose() ([]byte, error) {
	e := o.opts.Engine
	_, gid, _ := strings.Cut(e.Owner, ":")
	doc := ComposeFile{
		Services: map[string]ComposeService{
			e.Container: {
				Image:         e.Image,
				ContainerName: e.Container,
				Restart:       "unless-stopped",
				Environment: map[string]string{
					"COLLECTIONS": strings.Join(e.Collections, " "),
					"GID":         gid,
				},
				Volumes: []string{
					e.ConfigRoot + ":/etc/crowdsec",
					path.Join(e.ComposeDir, "data") + ":/var/lib/crowdsec/data",
					o.opts.Proxy.LogDir + ":" + path.Dir(o.opts.Proxy.AccessLog) + ":ro",
				},
				Ports:    []string{"127.0.0.1:" + strconv.Itoa(e.LAPIPort) + ":8080"},
				Networks: []string{e.Network},
			},
		},
		Networks: map[string]ComposeNetwork{
			e.Network: {External: true},
		},
	}
	return yaml.Marshal(doc)
}

// Install provisions the engine on a host and registers the host bouncer.
// lapiURL, when set, is recorded so health checks can use the HTTP API.
func (o *Orchestrator) Install(ctx context.Context, host remote.Host, lapiURL string) error {
	start := o.now()
	err := o.install(ctx, host, lapiURL)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	o.log.Info("install finished",
		zap.String("op", "install"),
		zap.String("server", host.Name),
		zap.String("outcome", outcome),
		zap.Duration("duration", o.now().Sub(start)),
		zap.Error(err),
	)
	return err
}

func (o *Orchestrator) install(ctx context.Context, host remote.Host, lapiURL string) error {
	e := o.opts.Engine

	step := func(name string, fn func() error) error {
		if err := fn(); err != nil {
			return &StepError{Step: name, Err: err}
		}
		return nil
	}

	alreadyUp := false
	if err := step(StepPreflight, func() error {
		var err error
		alreadyUp, err = o.preflight(ctx, host)
		return err
	}); err != nil {
		return err
	}
	if err := step(StepBootstrap, func() error {
		if err := o.bootstrap(ctx, host); err != nil {
			return err
		}
		_, err := o.run(ctx, host, "bootstrap", "mkdir -p "+remote.Quote(path.Join(e.ComposeDir, "data")))
		return err
	}); err != nil {
		return err
	}
	if err := step(StepHostDocuments, func() error { return o.ensureHostDocuments(ctx, host) }); err != nil {
		return err
	}
	if err := step(StepCompose, func() error {
		content, err := o.BuildCompose()
		if err != nil {
			return err
		}
		if err := o.pushFile(ctx, host, path.Join(e.ComposeDir, composeFile), content); err != nil {
			return err
		}
		_, err = o.run(ctx, host, "compose_up", "cd "+remote.Quote(e.ComposeDir), "docker compose up -d")
		return err
	}); err != nil {
		return err
	}
	if !alreadyUp {
		if err := step(StepStartup, func() error { return o.waitForEngine(ctx, host) }); err != nil {
			return err
		}
	}
	if err := step(StepHub, func() error {
		items := append(append([]string{}, e.Collections...), e.AppSecCollections...)
		cmds := []string{o.cscli("hub update")}
		for _, c := range items {
			cmds = append(cmds, o.cscli("collections install "+remote.Quote(c)))
		}
		_, err := o.run(ctx, host, "hub_install", cmds...)
		return err
	}); err != nil {
		return err
	}

	state, _, err := o.store.Server(ctx, host.Name)
	if err != nil {
		return fmt.Errorf("read server state: %w", err)
	}
	state.Name = host.Name
	if err := step(StepActivate, func() error {
		if state.EncryptedAPIKey != "" {
			return nil
		}
		key, err := o.createBouncer(ctx, host, hostBouncerName(host.Name))
		if err != nil {
			return err
		}
		state.EncryptedAPIKey, err = o.box.Seal(key)
		return err
	}); err != nil {
		return err
	}
	if err := step(StepReload, func() error { return o.reloadEngine(ctx, host) }); err != nil {
		return err
	}
	if err := step(StepPostValidate, func() error {
		up, err := o.containerUp(ctx, host, e.Container)
		if err != nil {
			return err
		}
		if !up {
			return fmt.Errorf("engine container %s is not running after install", e.Container)
		}
		return nil
	}); err != nil {
		return err
	}

	state.Installed = true
	state.Available = true
	state.LoggingInstalled = true
	if lapiURL != "" {
		state.LAPIURL = lapiURL
	}
	state.CheckedAt = o.now().UTC()
	return o.store.SaveServer(ctx, state)
}

// preflight reports whether the engine already runs. A fresh host needs
// docker, the shared network and a free LAPI port.
func (o *Orchestrator) preflight(ctx context.Context, host remote.Host) (bool, error) {
	e := o.opts.Engine
	if _, err := o.run(ctx, host, "preflight_docker", "command -v docker"); err != nil {
		return false, prerequisite("docker is not available on %s", host.Name)
	}
	out, err := o.run(ctx, host, "preflight_network",
		fmt.Sprintf("docker network inspect %s >/dev/null 2>&1 && echo present || echo missing", remote.Quote(e.Network)))
	if err != nil {
		return false, err
	}
	if strings.TrimSpace(out) != "present" {
		return false, prerequisite("docker network %s is missing on %s", e.Network, host.Name)
	}

	up, err := o.containerUp(ctx, host, e.Container)
	if err != nil {
		return false, err
	}
	if up {
		return true, nil
	}
	out, err = o.run(ctx, host, "preflight_port",
		fmt.Sprintf("ss -ltn | grep -q ':%d ' && echo busy || echo free", e.LAPIPort))
	if err != nil {
		return false, err
	}
	if strings.TrimSpace(out) == "busy" {
		return false, prerequisite("port %d is already in use on %s", e.LAPIPort, host.Name)
	}
	return false, nil
}

func (o *Orchestrator) waitForEngine(ctx context.Context, host remote.Host) error {
	wait := o.opts.Engine.StartupWait
	interval := o.opts.Deploy.HealthInterval
	if interval <= 0 {
		interval = time.Second
	}
	deadline := o.now().Add(wait)
	for {
		up, err := o.containerUp(ctx, host, o.opts.Engine.Container)
		if err == nil && up {
			return nil
		}
		if !o.now().Before(deadline) {
			return fmt.Errorf("engine did not start within %s", wait)
		}
		if err := o.sleep(ctx, interval); err != nil {
			return err
		}
	}
}

// Remove stops the engine and unplugs every bouncer middleware from the
// proxy. Generated files stay on disk.
func (o *Orchestrator) Remove(ctx context.Context, host remote.Host) error {
	e := o.opts.Engine
	if _, err := o.run(ctx, host, "compose_down", "cd "+remote.Quote(e.ComposeDir), "docker compose down"); err != nil {
		return &StepError{Step: StepTeardown, Err: err}
	}
	pattern := remote.Quote(o.opts.Proxy.DynamicDir) + "/" + rules.NamePrefix + "-*.yaml"
	if _, err := o.run(ctx, host, "unwire_proxy", "rm -f "+pattern); err != nil {
		return &StepError{Step: StepWireProxy, Err: err}
	}
	if err := o.reloadProxy(ctx, host); err != nil {
		return &StepError{Step: StepReload, Err: err}
	}

	state, _, err := o.store.Server(ctx, host.Name)
	if err != nil {
		return fmt.Errorf("read server state: %w", err)
	}
	state = ledger.ServerState{
		Name:      host.Name,
		LAPIURL:   state.LAPIURL,
		CheckedAt: o.now().UTC(),
	}
	if err := o.store.SaveServer(ctx, state); err != nil {
		return err
	}
	o.log.Info("engine removed", zap.String("op", "remove"), zap.String("server", host.Name), zap.String("outcome", "ok"))
	return nil
}
