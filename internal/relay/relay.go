// Package relay is the optional cloud object-storage boundary behind
// `!upload`/`!download`. `!upload` never needs it (the node curls the
// chat attachment's own URL); `!download` needs somewhere to put a
// file before handing the node a URL to fetch it from. Grounded on
// the original controller's xfer.py, which used OCI Object Storage;
// the boundary here is storage-agnostic so any bucket-style service
// can sit behind it.
package relay

import (
	"context"
	"fmt"
)

// Relay is the object-storage boundary for `!download`. A real
// implementation uploads a node-produced file to a bucket and returns
// a fetchable URL; Disabled reports unavailability so the command
// surface can degrade gracefully.
type Relay interface {
	// Enabled reports whether downloads are currently available.
	Enabled() bool

	// PresignUpload returns a URL the node can curl -T a file to, and
	// the URL the controller should hand back to the user once the
	// node confirms the upload, if different (object-store APIs often
	// split write and read URLs).
	PresignUpload(ctx context.Context, objectName string) (uploadURL, downloadURL string, err error)
}

// Disabled is a no-op Relay used when no object-storage config is
// provided, matching xfer.py's oci_setup() returning false.
type Disabled struct{}

func (Disabled) Enabled() bool { return false }

func (Disabled) PresignUpload(ctx context.Context, objectName string) (string, string, error) {
	return "", "", fmt.Errorf("relay: file transfer is not configured")
}

// UploadScript is the shell snippet submitted as a job to push a file
// from a node up to a presigned URL, ported from xfer.py's
// DOWNLOAD_SCRIPT (named from the node's point of view: it uploads).
const UploadScript = `
if command -v curl > /dev/null
then
  echo Uploading:
  echo '%s'
  curl -s -T '%s' '%s'
else
  echo Please install curl
  exit 1
fi
`

// FetchScript is the shell snippet submitted as a job to pull a
// chat-attached file down onto a node, ported from xfer.py's
// UPLOAD_SCRIPT (named from the node's point of view: it downloads).
const FetchScript = `
if command -v curl > /dev/null
then
  echo Downloading:
  echo '%s'
  curl -Os '%s'
else
  echo Please install curl, then download this url:
  echo '%s'
fi
`

// BuildFetchScript renders FetchScript for a chat attachment URL.
func BuildFetchScript(url string) string {
	return fmt.Sprintf(FetchScript, url, url, url)
}

// BuildUploadScript renders UploadScript for a named file being
// pushed to uploadURL.
func BuildUploadScript(fileName, uploadURL string) string {
	return fmt.Sprintf(UploadScript, fileName, fileName, uploadURL)
}
