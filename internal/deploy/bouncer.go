package deploy

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sentinelhq/sentinel/internal/ledger"
	"github.com/sentinelhq/sentinel/internal/remote"
	"github.com/sentinelhq/sentinel/internal/rules"
)

const minBouncerKeyLength = 20

func BouncerName(appUUID string) string {
	return rules.NamePrefix + "-" + appUUID
}

func hostBouncerName(server string) string {
	return rules.NamePrefix + "-traefik-" + server
}

// Activate makes sure the application has a bouncer credential. An
// existing credential is reused; a new one is created only once.
func (o *Orchestrator) Activate(ctx context.Context, appUUID string, host remote.Host) error {
	_, ok, err := o.store.Credential(ctx, appUUID)
	if err != nil {
		return fmt.Errorf("read credential: %w", err)
	}
	if ok {
		return nil
	}

	name := BouncerName(appUUID)
	key, err := o.createBouncer(ctx, host, name)
	if err != nil {
		return err
	}
	sealed, err := o.box.Seal(key)
	if err != nil {
		return fmt.Errorf("seal bouncer key: %w", err)
	}
	return o.store.SaveCredential(ctx, ledger.Credential{
		AppUUID:      appUUID,
		BouncerName:  name,
		EncryptedKey: sealed,
		LAPIURL:      o.opts.Engine.LAPIURL,
		CreatedAt:    o.now().UTC(),
	})
}

// Deactivate removes the application's bouncer and forgets its credential.
func (o *Orchestrator) Deactivate(ctx context.Context, appUUID string, host remote.Host) error {
	cred, ok, err := o.store.Credential(ctx, appUUID)
	if err != nil {
		return fmt.Errorf("read credential: %w", err)
	}
	if !ok {
		return nil
	}
	if err := o.deleteBouncer(ctx, host, cred.BouncerName); err != nil {
		return err
	}
	return o.store.DeleteCredential(ctx, appUUID)
}

// createBouncer registers a bouncer and returns its key. The engine only
// reveals a key at creation, so a name that already exists is deleted and
// registered again rather than guessed.
func (o *Orchestrator) createBouncer(ctx context.Context, host remote.Host, name string) (string, error) {
	add := o.cscli("bouncers add " + remote.Quote(name) + " -o raw")
	out, err := o.run(ctx, host, "bouncer_add", add)
	if alreadyExists(out, err) {
		o.log.Warn("bouncer already exists, recreating it", zap.String("server", host.Name), zap.String("bouncer", name))
		if err := o.deleteBouncer(ctx, host, name); err != nil {
			return "", err
		}
		out, err = o.run(ctx, host, "bouncer_add", add)
	}
	if err != nil {
		return "", err
	}
	key := lastLine(out)
	if len(key) < minBouncerKeyLength {
		return "", fmt.Errorf("bouncer %s: engine returned an unusable key", name)
	}
	return key, nil
}

func (o *Orchestrator) deleteBouncer(ctx context.Context, host remote.Host, name string) error {
	out, err := o.run(ctx, host, "bouncer_delete", o.cscli("bouncers delete "+remote.Quote(name)))
	if err != nil && !notFound(out, err) {
		return err
	}
	return nil
}

func alreadyExists(out string, err error) bool {
	return containsFold(out, err, "already exists")
}

func notFound(out string, err error) bool {
	return containsFold(out, err, "not found") || containsFold(out, err, "unable to delete")
}

func containsFold(out string, err error, needle string) bool {
	if strings.Contains(strings.ToLower(out), needle) {
		return true
	}
	return err != nil && strings.Contains(strings.ToLower(err.Error()), needle)
}

func lastLine(out string) string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
