//go:build !unix

package filesystem

import (
	"os"
	"time"
)

func accessTime(info os.FileInfo) time.Time {
	return info.ModTime()
}
