package neurovault

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/PeerHerholz/neuroscout/internal/artifact"
	"github.com/PeerHerholz/neuroscout/internal/logging"
)

// CollectionClient is the subset of the repository API the publisher uses.
type CollectionClient interface {
	CreateCollection(ctx context.Context, name string) (*Collection, error)
	AddImage(ctx context.Context, collectionID int, path string, meta ImageMetadata) (*Image, error)
}

// ClientFactory returns a client authenticated with a caller's token.
type ClientFactory func(accessToken string) CollectionClient

// UploadRequest holds the inputs of an upload.
type UploadRequest struct {
	ImgTarball  string
	HashID      string
	AccessToken string
	Timestamp   *string
	NSubjects   *int
}

// UploadResult identifies the created collection.
type UploadResult struct {
	CollectionID int `json:"collection_id"`
}

// CollectionName is hash_id, suffixed with _{timestamp} when one is given.
func (r UploadRequest) CollectionName() string {
	if r.Timestamp == nil {
		return r.HashID
	}
	return r.HashID + "_" + *r.Timestamp
}

// Publisher uploads result images into new collections.
type Publisher struct {
	clients     ClientFactory
	scratchRoot string
	logger      *slog.Logger
}

// NewPublisher creates a Publisher. Tarballs are extracted below
// scratchRoot ("" = os.TempDir).
func NewPublisher(clients ClientFactory, scratchRoot string, logger *slog.Logger) *Publisher {
	return &Publisher{
		clients:     clients,
		scratchRoot: scratchRoot,
		logger:      logging.Component(logger, "publisher"),
	}
}

// NewHTTPClientFactory builds clients for the repository at baseURL.
func NewHTTPClientFactory(baseURL string, timeout time.Duration) ClientFactory {
	return func(token string) CollectionClient {
		return NewClient(baseURL, token, timeout)
	}
}

// Upload extracts the tarball, creates the collection and adds every
// root-level *.nii.gz image. Any remote failure, or an image without a
// contrast, is returned as a *PublishError.
func (p *Publisher) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	if req.HashID == "" {
		return nil, fmt.Errorf("upload: hash_id is required")
	}
	scratch, err := artifact.NewScratch(p.scratchRoot, "upload-"+req.HashID)
	if err != nil {
		return nil, err
	}
	defer scratch.Close()

	if _, err := artifact.ExtractFile(ctx, req.ImgTarball, scratch.Dir); err != nil {
		return nil, fmt.Errorf("extract %s: %w", req.ImgTarball, err)
	}
	images, err := findImages(scratch.Dir)
	if err != nil {
		return nil, err
	}

	name := req.CollectionName()
	client := p.clients(req.AccessToken)
	collection, err := client.CreateCollection(ctx, name)
	if err != nil {
		return nil, p.fail(&PublishError{Stage: StageCreateCollection, Err: err}, name)
	}

	for i, img := range images {
		base := filepath.Base(img)
		contrast, err := ParseContrast(base)
		if err != nil {
			return nil, p.fail(&PublishError{Stage: StageAddImage, Index: i, Image: base, Err: err}, name)
		}
		meta := ImageMetadata{
			Name:                      contrast,
			Modality:                  "fMRI-BOLD",
			MapType:                   "T",
			AnalysisLevel:             "G",
			CognitiveParadigmCogatlas: "None",
			NumberOfSubjects:          req.NSubjects,
			IsValid:                   true,
		}
		if _, err := client.AddImage(ctx, collection.ID, img, meta); err != nil {
			return nil, p.fail(&PublishError{Stage: StageAddImage, Index: i, Image: base, Err: err}, name)
		}
	}

	p.logger.Info("collection published",
		"collection", name,
		"collection_id", collection.ID,
		"images", len(images),
	)
	return &UploadResult{CollectionID: collection.ID}, nil
}

func (p *Publisher) fail(err *PublishError, collection string) error {
	p.logger.Error("publish failed",
		"collection", collection,
		"stage", err.Stage,
		"cause", err.Detail(),
	)
	return err
}

// findImages lists the regular *.nii.gz files at the root of dir, sorted.
func findImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		// Hidden entries, such as macOS AppleDouble "._" files, are not images.
		if e.Type()&fs.ModeType != 0 || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".nii.gz") {
			continue
		}
		out = append(out, filepath.Join(dir, name))
	}
	sort.Strings(out)
	return out, nil
}
