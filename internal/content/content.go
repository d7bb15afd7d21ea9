// Package content hands out anonymous files for downloaded bodies. File names
// are random tokens unrelated to the URL, so independent writers sharing one
// cache directory never fight over a name; whoever owns the metadata row owns
// the file.
package content

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Allocator 在指定目录下创建互不冲突的随机命名文件。
// 熵源由构造方显式注入，测试里可以用确定性的熵源复现文件名冲突。
type Allocator struct {
	entropy io.Reader
}

// NewAllocator returns an Allocator drawing names from entropy. A nil entropy
// falls back to crypto/rand.
func NewAllocator(entropy io.Reader) *Allocator {
	if entropy == nil {
		entropy = rand.Reader
	}
	return &Allocator{entropy: entropy}
}

// Allocate 在 dir 下独占创建一个随机命名的新文件，返回可写句柄与完整路径。
// 文件名冲突时换一个名字重试；其余创建错误（权限、磁盘满、目录缺失）原样返回。
// 冲突概率在 128 位随机量下可以忽略，重试循环只是兜底。
func (a *Allocator) Allocate(dir string) (*os.File, string, error) {
	for {
		token, err := uuid.NewRandomFromReader(a.entropy)
		if err != nil {
			return nil, "", fmt.Errorf("generate file token: %w", err)
		}

		path := filepath.Join(dir, token.String())
		handle, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return handle, path, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, "", fmt.Errorf("create content file: %w", err)
		}
		// Name collision, try another token.
	}
}
