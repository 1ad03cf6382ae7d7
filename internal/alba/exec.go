package alba

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/darshan-rambhia/healthcheck/internal/platform"
	"github.com/darshan-rambhia/healthcheck/internal/probe"
)

// Error is a failure reported by the tool in its JSON envelope.
type Error struct {
	Command string
	Message string
	Type    string
	Code    int
}

func (e *Error) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("alba %s: %s: %s", e.Command, e.Type, e.Message)
	}
	return fmt.Sprintf("alba %s: %s", e.Command, e.Message)
}

// Is matches ErrNamespaceNotFound on the manager's exception name.
func (e *Error) Is(target error) bool {
	return target == ErrNamespaceNotFound &&
		(strings.Contains(e.Message, "Namespace_does_not_exist") || strings.Contains(e.Type, "Namespace_does_not_exist"))
}

type envelope struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
	Error   *struct {
		Message string `json:"message"`
		Type    string `json:"exception_type"`
		Code    int    `json:"exception_code"`
	} `json:"error"`
}

// Exec runs the alba binary with --to-json.
type Exec struct {
	Binary string
	Runner probe.Runner
}

// NewExec returns a client running binary on this node.
func NewExec(binary string) *Exec {
	return &Exec{Binary: binary, Runner: probe.LocalExecutor{}}
}

func (e *Exec) call(ctx context.Context, dst any, cmd string, args ...string) error {
	full := append(append([]string{cmd}, args...), "--to-json")
	out, runErr := e.Runner.Command(ctx, e.Binary, full...)
	if runErr != nil && ctx.Err() != nil {
		return runErr
	}
	if len(bytes.TrimSpace(out)) == 0 {
		if runErr != nil {
			return fmt.Errorf("alba %s: %w", cmd, runErr)
		}
		return &Error{Command: cmd, Message: "empty output"}
	}

	var env envelope
	if err := json.Unmarshal(out, &env); err != nil {
		return fmt.Errorf("decoding alba %s output: %w", cmd, err)
	}
	if !env.Success {
		ae := &Error{Command: cmd, Message: "command failed"}
		if env.Error != nil {
			ae.Message, ae.Type, ae.Code = env.Error.Message, env.Error.Type, env.Error.Code
		}
		return ae
	}
	if dst == nil || len(env.Result) == 0 || string(env.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Result, dst); err != nil {
		return fmt.Errorf("decoding alba %s result: %w", cmd, err)
	}
	return nil
}

func (e *Exec) ASDSet(ctx context.Context, osd Endpoint, key, value string) error {
	return e.call(ctx, nil, "asd-set", append(portArgs(osd), key, value)...)
}

func (e *Exec) ASDGet(ctx context.Context, osd Endpoint, key string) (string, bool, error) {
	var v *string
	if err := e.call(ctx, &v, "asd-multi-get", append(portArgs(osd), key)...); err != nil {
		return "", false, err
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

func (e *Exec) ASDDelete(ctx context.Context, osd Endpoint, key string) error {
	return e.call(ctx, nil, "asd-delete", append(portArgs(osd), key)...)
}

func (e *Exec) ProxyClientConfig(ctx context.Context, proxy Endpoint) (ProxyClientConfig, error) {
	var cfg ProxyClientConfig
	if err := e.call(ctx, &cfg, "proxy-client-cfg", portArgs(proxy)...); err != nil {
		return ProxyClientConfig{}, err
	}
	if cfg.ClusterID == "" {
		return ProxyClientConfig{}, &Error{Command: "proxy-client-cfg", Message: "no cluster_id in proxy config"}
	}
	return cfg, nil
}

func (e *Exec) ProxyCreateNamespace(ctx context.Context, proxy Endpoint, namespace, preset string) error {
	return e.call(ctx, nil, "proxy-create-namespace", append(portArgs(proxy), namespace, preset)...)
}

func (e *Exec) ProxyDeleteNamespace(ctx context.Context, proxy Endpoint, namespace string) error {
	return e.call(ctx, nil, "proxy-delete-namespace", append(portArgs(proxy), namespace)...)
}

func (e *Exec) ProxyInvalidateNamespace(ctx context.Context, proxy Endpoint, namespace string) error {
	return e.call(ctx, nil, "proxy-invalidate-cache", append(portArgs(proxy), namespace)...)
}

func (e *Exec) ProxyUploadObject(ctx context.Context, proxy Endpoint, namespace, path, key string) error {
	return e.call(ctx, nil, "proxy-upload-object", append(portArgs(proxy), namespace, path, key)...)
}

func (e *Exec) ProxyDownloadObject(ctx context.Context, proxy Endpoint, namespace, key, path string) error {
	return e.call(ctx, nil, "proxy-download-object", append(portArgs(proxy), namespace, key, path)...)
}

func (e *Exec) ListPresets(ctx context.Context, config string) ([]platform.Preset, error) {
	var presets []platform.Preset
	if err := e.call(ctx, &presets, "list-presets", "--config", config); err != nil {
		return nil, err
	}
	return presets, nil
}

func (e *Exec) ListNamespaces(ctx context.Context, config string) ([]Namespace, error) {
	var ns []Namespace
	if err := e.call(ctx, &ns, "list-namespaces", "--config", config); err != nil {
		return nil, err
	}
	return ns, nil
}

func (e *Exec) ShowNamespace(ctx context.Context, config, namespace string) (map[string]any, error) {
	var info map[string]any
	if err := e.call(ctx, &info, "show-namespace", "--config", config, namespace); err != nil {
		return nil, err
	}
	return info, nil
}

func (e *Exec) DeliverMessages(ctx context.Context, config string) error {
	return e.call(ctx, nil, "deliver-messages", "--config", config)
}

func (e *Exec) ListNamespaceOSDs(ctx context.Context, config, namespace string) ([]NamespaceOSD, error) {
	var osds []NamespaceOSD
	if err := e.call(ctx, &osds, "list-ns-osds", "--config", config, namespace); err != nil {
		return nil, err
	}
	return osds, nil
}

func (e *Exec) DiskSafety(ctx context.Context, config string, includeErrored bool) ([]NamespaceSafety, error) {
	args := []string{"--config", config}
	if includeErrored {
		args = append(args, "--include-errored-as-dead")
	}
	var out []NamespaceSafety
	if err := e.call(ctx, &out, "get-disk-safety", args...); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Exec) MaintenanceConfig(ctx context.Context, config string) (MaintenanceConfig, error) {
	var cfg MaintenanceConfig
	if err := e.call(ctx, &cfg, "get-maintenance-config", "--config", config); err != nil {
		return MaintenanceConfig{}, err
	}
	return cfg, nil
}

var _ CLI = (*Exec)(nil)

// IsNamespaceNotFound reports whether err means the namespace is gone.
func IsNamespaceNotFound(err error) bool { return errors.Is(err, ErrNamespaceNotFound) }
