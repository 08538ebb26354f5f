package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/entrhq/pw/pkg/engine"
	"github.com/entrhq/pw/pkg/logging"
	"github.com/entrhq/pw/pkg/tools"
)

const captureTimeout = 10 * time.Second

// CaptureFailure saves a screenshot and the HTML of page into dir, named
// after the failed operation. Capture errors are logged and skipped so the
// original failure stays the reported one.
func CaptureFailure(ctx context.Context, page engine.Page, dir, op string, logger *logging.Logger) []tools.Artifact {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), captureTimeout)
	defer cancel()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Warnf("failed to create artifacts dir %s: %v", dir, err)
		return nil
	}

	stem := fmt.Sprintf("%s-%d-failure", strings.ReplaceAll(op, ".", "-"), time.Now().UnixMilli())
	var artifacts []tools.Artifact

	shot := filepath.Join(dir, stem+".png")
	if err := page.Screenshot(ctx, shot, false); err != nil {
		logger.Warnf("failure screenshot for %s skipped: %v", op, err)
	} else {
		artifacts = append(artifacts, tools.Artifact{Kind: "screenshot", Path: shot})
	}

	html, err := page.HTML(ctx, "")
	if err != nil {
		logger.Warnf("failure html for %s skipped: %v", op, err)
		return artifacts
	}
	htmlPath := filepath.Join(dir, stem+".html")
	if err := os.WriteFile(htmlPath, []byte(html), 0o644); err != nil {
		logger.Warnf("failed to write %s: %v", htmlPath, err)
		return artifacts
	}
	return append(artifacts, tools.Artifact{Kind: "html", Path: htmlPath})
}
