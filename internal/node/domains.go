package node

import (
	"context"
	"fmt"
	"sort"

	"github.com/samber/lo"

	"github.com/darshan-rambhia/healthcheck/internal/check"
	"github.com/darshan-rambhia/healthcheck/internal/platform"
	"github.com/darshan-rambhia/healthcheck/internal/result"
)

func (c *Checker) domainsTest(ctx context.Context, rec *result.Recorder, _ check.Options) error {
	domains, err := c.Model.Domains(ctx)
	if err != nil {
		rec.Failure(fmt.Sprintf("Unable to list domains: %v", err), result.CodeModelQueryFailed)
		return nil
	}
	routers, err := c.Model.StorageRouters(ctx)
	if err != nil {
		rec.Failure(fmt.Sprintf("Unable to list storage routers: %v", err), result.CodeModelQueryFailed)
		return nil
	}
	for _, f := range EvaluateDomains(domains, routers) {
		rec.Record(f.Severity, f.Code, f.Message)
	}
	return nil
}

// EvaluateDomains flags recovery domains that are never used as primary and
// nodes using one domain in both roles.
func EvaluateDomains(domains []platform.Domain, routers []platform.StorageRouter) []Finding {
	names := lo.SliceToMap(domains, func(d platform.Domain) (string, string) { return d.GUID, d.Name })
	name := func(guid string) string {
		if n, ok := names[guid]; ok {
			return n
		}
		return guid
	}

	primary := map[string]bool{}
	recovery := map[string][]string{}
	var out []Finding
	for _, sr := range routers {
		roles := map[string][2]bool{}
		for _, ref := range sr.Domains {
			r := roles[ref.DomainGUID]
			if ref.Backup {
				r[1] = true
				recovery[ref.DomainGUID] = append(recovery[ref.DomainGUID], sr.Name)
			} else {
				r[0] = true
				primary[ref.DomainGUID] = true
			}
			roles[ref.DomainGUID] = r
		}
		for guid, r := range roles {
			if r[0] && r[1] {
				out = append(out, Finding{result.Warning, result.CodeDomainBothRoles,
					fmt.Sprintf("Node %s uses domain %s as primary and recovery domain", sr.Name, name(guid))})
			}
		}
	}

	guids := lo.Keys(recovery)
	sort.Strings(guids)
	for _, guid := range guids {
		if primary[guid] {
			continue
		}
		nodes := recovery[guid]
		sort.Strings(nodes)
		out = append(out, Finding{result.Warning, result.CodeRecoveryOrphan,
			fmt.Sprintf("Domain %s is a recovery domain of %v but the primary domain of no node", name(guid), nodes)})
	}
	if len(out) == 0 {
		out = append(out, Finding{result.Success, result.CodeDomainsOK, "The recovery domains are consistent"})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Message < out[j].Message })
	return out
}
