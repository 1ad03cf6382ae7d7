package alba

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/darshan-rambhia/healthcheck/internal/check"
	"github.com/darshan-rambhia/healthcheck/internal/registry"
	"github.com/darshan-rambhia/healthcheck/internal/result"
)

// IPMIConfig is the power-management endpoint of a storage node.
type IPMIConfig struct {
	IP       string `json:"ip"`
	Username string `json:"username"`
	Password string `json:"password"`
}

func (c *Checker) ipmiTest(ctx context.Context, rec *result.Recorder, _ check.Options) error {
	var cfg IPMIConfig
	err := registry.GetJSON(ctx, c.Registry, c.Paths.IPMI(c.NodeID), &cfg)
	switch {
	case errors.Is(err, registry.ErrKeyNotFound) || (err == nil && cfg.IP == ""):
		rec.Skip(fmt.Sprintf("No IPMI configured for node %s", c.NodeID), result.CodeIPMINotConfigured)
		return nil
	case err != nil:
		return fmt.Errorf("reading IPMI config: %w", err)
	}

	out, err := c.Runner.Command(ctx, "ipmitool", "-I", "lanplus", "-H", cfg.IP, "-U", cfg.Username, "-P", cfg.Password, "chassis", "power", "status")
	if err != nil {
		msg := err.Error()
		if cfg.Password != "" {
			msg = strings.ReplaceAll(msg, cfg.Password, "****")
		}
		rec.Warning(fmt.Sprintf("Unable to query IPMI at %s: %s", cfg.IP, msg), result.CodeIPMIFailed)
		return nil
	}
	f := EvaluatePowerStatus(cfg.IP, string(out))
	rec.Record(f.Severity, f.Code, f.Message)
	return nil
}

// EvaluatePowerStatus reads `chassis power status` output.
func EvaluatePowerStatus(ip, out string) Finding {
	status := strings.ToLower(strings.TrimSpace(out))
	switch {
	case strings.HasSuffix(status, " on"):
		return Finding{result.Success, result.CodeIPMIPowerOn, fmt.Sprintf("Node at %s reports power on", ip)}
	case strings.HasSuffix(status, " off"):
		return Finding{result.Failure, result.CodeIPMIPowerOff, fmt.Sprintf("Node at %s reports power off", ip)}
	default:
		return Finding{result.Warning, result.CodeIPMIFailed, fmt.Sprintf("Unexpected IPMI output from %s: %q", ip, strings.TrimSpace(out))}
	}
}
