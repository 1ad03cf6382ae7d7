package volumedriver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/darshan-rambhia/healthcheck/internal/check"
	"github.com/darshan-rambhia/healthcheck/internal/platform"
	"github.com/darshan-rambhia/healthcheck/internal/result"
)

// Bucket separates volumes halted on their owner from fenced instances that
// lost ownership to another node.
type Bucket string

const (
	BucketHalted Bucket = "halted"
	BucketFenced Bucket = "fenced"
)

// States a fenced volume can be in.
const (
	StateHalted         = "halted"
	StateOK             = "ok"
	StateNotFound       = "not_found"
	StateMaxRedirect    = "max_redirect"
	StateConnectionFail = "connection_fail"
)

type cell struct {
	Bucket Bucket
	State  string
}

type cellInfo struct {
	Severity result.Severity
	Code     result.Code
	Label    string
}

var cells = map[cell]cellInfo{
	{BucketHalted, StateHalted}:         {result.Failure, result.CodeVolumeHalted, "Halted volumes"},
	{BucketFenced, StateHalted}:         {result.Failure, result.CodeVolumeFencedHalted, "Fenced volumes halted on their owner"},
	{BucketFenced, StateOK}:             {result.Failure, result.CodeVolumeFencedOK, "Fenced volumes running on their owner"},
	{BucketFenced, StateNotFound}:       {result.Warning, result.CodeVolumeFencedNotFound, "Fenced volumes that no longer exist"},
	{BucketFenced, StateMaxRedirect}:    {result.Failure, result.CodeVolumeFencedRedirect, "Fenced volumes exceeding the redirect limit"},
	{BucketFenced, StateConnectionFail}: {result.Failure, result.CodeVolumeFencedConnection, "Fenced volumes whose owner is unreachable"},
}

// Scan is the outcome of classifying the halted volumes of one driver.
type Scan map[cell][]string

func (s Scan) add(b Bucket, state, volume string) {
	k := cell{b, state}
	s[k] = append(s[k], volume)
}

// Volumes returns the volumes in one cell.
func (s Scan) Volumes(b Bucket, state string) []string { return s[cell{b, state}] }

// ClassifyError maps an info_volume error onto a fenced state.
func ClassifyError(err error) string {
	switch {
	case errors.Is(err, ErrObjectNotFound):
		return StateNotFound
	case errors.Is(err, ErrMaxRedirects):
		return StateMaxRedirect
	}
	return StateConnectionFail
}

// ScanHalted lists the halted volumes of sd and sorts them into buckets by
// owner. Fenced volumes are classified through info_volume.
func (c *Checker) ScanHalted(ctx context.Context, cl Client, sd platform.StorageDriver) (Scan, error) {
	halted, err := cl.ListHaltedVolumes(ctx, sd.StorageDriverID)
	if err != nil {
		return nil, err
	}
	scan := Scan{}
	for _, vol := range halted {
		owner, err := cl.Owner(ctx, vol)
		if err != nil {
			c.logger().Debug("volume owner lookup failed", "volume", vol, "error", err)
			scan.add(BucketFenced, ClassifyError(err), vol)
			continue
		}
		if owner == sd.StorageDriverID {
			scan.add(BucketHalted, StateHalted, vol)
			continue
		}
		scan.add(BucketFenced, c.fencedState(ctx, cl, vol), vol)
	}
	return scan, nil
}

func (c *Checker) fencedState(ctx context.Context, cl Client, vol string) string {
	ctx, cancel := context.WithTimeout(ctx, c.Limits.InfoVolumeTimeout)
	defer cancel()
	info, err := cl.InfoVolume(ctx, vol)
	if err != nil {
		return ClassifyError(err)
	}
	if info.Halted {
		return StateHalted
	}
	return StateOK
}

func (c *Checker) haltedTest(ctx context.Context, rec *result.Recorder, _ check.Options) error {
	_, drivers := c.localDrivers(ctx, rec)
	for _, sd := range drivers {
		var scan Scan
		err := c.withClient(sd, func(cl Client) error {
			var err error
			scan, err = c.ScanHalted(ctx, cl, sd)
			return err
		})
		if err != nil {
			rec.Failure(fmt.Sprintf("Unable to list halted volumes of %s: %v", sd.StorageDriverID, err), result.CodeHaltedListFailed)
			continue
		}
		if len(scan) == 0 {
			rec.Success(fmt.Sprintf("No halted volumes on vpool %s", sd.VPoolName), result.CodeVolumesNotHalted)
			continue
		}
		keys := make([]cell, 0, len(scan))
		for k := range scan {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			if keys[i].Bucket != keys[j].Bucket {
				return keys[i].Bucket > keys[j].Bucket
			}
			return keys[i].State < keys[j].State
		})
		for _, k := range keys {
			info := cells[k]
			vols := scan[k]
			sort.Strings(vols)
			rec.Record(info.Severity, info.Code, fmt.Sprintf("%s on vpool %s: %s", info.Label, sd.VPoolName, strings.Join(vols, ", ")))
		}
	}
	return nil
}
