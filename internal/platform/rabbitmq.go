package platform

import (
	"context"
	"encoding/json"
	"fmt"
)

// BusNode is one message-bus cluster member as the management API sees it.
type BusNode struct {
	Name       string   `json:"name"`
	Running    bool     `json:"running"`
	Partitions []string `json:"partitions"`
}

// RabbitMQ queries the RabbitMQ management API.
type RabbitMQ struct {
	api *apiClient
}

// NewRabbitMQ returns a management API client. cfg carries basic-auth
// credentials rather than a token.
func NewRabbitMQ(cfg HTTPConfig) *RabbitMQ {
	return &RabbitMQ{api: newAPIClient(cfg)}
}

// Nodes lists the bus cluster members.
func (r *RabbitMQ) Nodes(ctx context.Context) ([]BusNode, error) {
	body, err := r.api.get(ctx, "/api/nodes")
	if err != nil {
		return nil, err
	}
	var out []BusNode
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("parsing /api/nodes: %w", err)
	}
	return out, nil
}

// Partitions returns every partition any member reports, keyed by member.
func (r *RabbitMQ) Partitions(ctx context.Context) (map[string][]string, error) {
	nodes, err := r.Nodes(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]string)
	for _, n := range nodes {
		if len(n.Partitions) > 0 {
			out[n.Name] = n.Partitions
		}
	}
	return out, nil
}

// Overview checks that the management API answers at all.
func (r *RabbitMQ) Overview(ctx context.Context) error {
	_, err := r.api.get(ctx, "/api/overview")
	return err
}
