// Package cloud identifies the cloud instance a GPU node runs on, so the
// backend can tell a p5.48xlarge from an a3-highgpu-8g without asking the
// Kubernetes API.
package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/kubeadapt/kubeadapt-gpu-agent/pkg/model"
)

// Endpoints holds the metadata service base URLs. Tests point them at
// httptest servers.
type Endpoints struct {
	AWS   string
	GCP   string
	Azure string
}

// DefaultEndpoints are the link-local metadata services.
var DefaultEndpoints = Endpoints{
	AWS:   "http://169.254.169.254",
	GCP:   "http://metadata.google.internal/computeMetadata/v1",
	Azure: "http://169.254.169.254",
}

// maxBody caps every metadata response.
const maxBody = 64 << 10

type probe struct {
	provider string
	fn       func(ctx context.Context) (model.CloudInstance, error)
}

// Prober queries the instance metadata services once and remembers the
// answer. The zero value is not usable; use NewProber.
type Prober struct {
	client    *http.Client
	endpoints Endpoints

	once   sync.Once
	result model.CloudInstance
}

// NewProber returns a Prober whose requests each time out after timeout.
func NewProber(endpoints Endpoints, timeout time.Duration) *Prober {
	return &Prober{
		client:    &http.Client{Timeout: timeout},
		endpoints: endpoints,
	}
}

// Instance probes on the first call and returns the cached result after
// that. The Provider is empty when no metadata service answered.
func (p *Prober) Instance(ctx context.Context) model.CloudInstance {
	p.once.Do(func() {
		p.result = p.detect(ctx)
	})
	return p.result
}

// detect runs every probe concurrently. When more than one answers, the
// earlier entry in the list wins.
func (p *Prober) detect(ctx context.Context) model.CloudInstance {
	probes := []probe{
		{"aws", p.aws},
		{"gcp", p.gcp},
		{"azure", p.azure},
	}

	results := make([]model.CloudInstance, len(probes))
	errs := make([]error, len(probes))
	var wg sync.WaitGroup
	for i, pr := range probes {
		wg.Go(func() { results[i], errs[i] = pr.fn(ctx) })
	}
	wg.Wait()

	for i, pr := range probes {
		if errs[i] != nil {
			slog.Debug("cloud metadata probe failed", "provider", pr.provider, "error", errs[i])
			continue
		}
		slog.Info("cloud instance detected",
			"provider", pr.provider,
			"region", results[i].Region,
			"instance_type", results[i].InstanceType,
		)
		return results[i]
	}
	return model.CloudInstance{}
}

// fetch performs one metadata request and returns the body of a 200 answer.
func (p *Prober) fetch(ctx context.Context, method, url string, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header = header

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s %s returned %d", method, url, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxBody))
}

// aws uses IMDSv2: a session token first, then the identity document.
func (p *Prober) aws(ctx context.Context) (model.CloudInstance, error) {
	token, err := p.fetch(ctx, http.MethodPut, p.endpoints.AWS+"/latest/api/token",
		http.Header{"X-Aws-Ec2-Metadata-Token-Ttl-Seconds": {"60"}})
	if err != nil {
		return model.CloudInstance{}, err
	}

	body, err := p.fetch(ctx, http.MethodGet, p.endpoints.AWS+"/latest/dynamic/instance-identity/document",
		http.Header{"X-Aws-Ec2-Metadata-Token": {string(token)}})
	if err != nil {
		return model.CloudInstance{}, err
	}

	var doc struct {
		Region           string `json:"region"`
		AvailabilityZone string `json:"availabilityZone"`
		InstanceType     string `json:"instanceType"`
		InstanceID       string `json:"instanceId"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return model.CloudInstance{}, fmt.Errorf("aws identity document: %w", err)
	}
	return model.CloudInstance{
		Provider:     "aws",
		Region:       doc.Region,
		Zone:         doc.AvailabilityZone,
		InstanceType: doc.InstanceType,
		InstanceID:   doc.InstanceID,
	}, nil
}

func (p *Prober) gcp(ctx context.Context) (model.CloudInstance, error) {
	get := func(key string) (string, error) {
		body, err := p.fetch(ctx, http.MethodGet, p.endpoints.GCP+"/instance/"+key,
			http.Header{"Metadata-Flavor": {"Google"}})
		return strings.TrimSpace(string(body)), err
	}

	// zone and machine-type come back as resource paths:
	// projects/123/zones/us-central1-a
	zone, err := get("zone")
	if err != nil {
		return model.CloudInstance{}, err
	}
	machineType, err := get("machine-type")
	if err != nil {
		return model.CloudInstance{}, err
	}
	id, err := get("id")
	if err != nil {
		return model.CloudInstance{}, err
	}

	zone = path.Base(zone)
	region := zone
	if i := strings.LastIndex(zone, "-"); i > 0 {
		region = zone[:i]
	}
	return model.CloudInstance{
		Provider:     "gcp",
		Region:       region,
		Zone:         zone,
		InstanceType: path.Base(machineType),
		InstanceID:   id,
	}, nil
}

func (p *Prober) azure(ctx context.Context) (model.CloudInstance, error) {
	body, err := p.fetch(ctx, http.MethodGet, p.endpoints.Azure+"/metadata/instance/compute?api-version=2021-02-01",
		http.Header{"Metadata": {"true"}})
	if err != nil {
		return model.CloudInstance{}, err
	}

	var doc struct {
		Location string `json:"location"`
		Zone     string `json:"zone"`
		VMSize   string `json:"vmSize"`
		VMID     string `json:"vmId"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return model.CloudInstance{}, fmt.Errorf("azure compute metadata: %w", err)
	}
	return model.CloudInstance{
		Provider:     "azure",
		Region:       doc.Location,
		Zone:         doc.Zone,
		InstanceType: doc.VMSize,
		InstanceID:   doc.VMID,
	}, nil
}
