package filesystem

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
)

// PlatformUtils 平台兼容性工具
type PlatformUtils struct{}

// NewPlatformUtils 创建平台工具实例
func NewPlatformUtils() *PlatformUtils {
	return &PlatformUtils{}
}

// ValidatePath 验证数据目录路径是否安全
func (p *PlatformUtils) ValidatePath(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("path is empty")
	}

	if len(path) > p.GetMaxPathLength() {
		return fmt.Errorf("path too long: %d characters", len(path))
	}

	// 不允许路径遍历
	for _, part := range strings.FieldsFunc(path, isSeparator) {
		if part == ".." {
			return fmt.Errorf("path traversal detected: %s", path)
		}
	}

	if strings.ContainsRune(path, 0) {
		return fmt.Errorf("path contains NUL byte")
	}

	return nil
}

func isSeparator(r rune) bool {
	return r == '/' || r == '\\'
}

// GetMaxPathLength 获取当前平台的最大路径长度
func (p *PlatformUtils) GetMaxPathLength() int {
	switch runtime.GOOS {
	case "windows":
		// 兼容未开启长路径的 Windows
		return 240
	default:
		return 4096
	}
}

// IsCaseSensitive 检查当前文件系统是否大小写敏感
func (p *PlatformUtils) IsCaseSensitive() bool {
	return runtime.GOOS != "windows"
}

// NormalizePath 转为绝对路径并清理
func (p *PlatformUtils) NormalizePath(path string) string {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}

	cleanPath := filepath.Clean(absPath)

	if !p.IsCaseSensitive() {
		cleanPath = strings.ToLower(cleanPath)
	}

	return cleanPath
}

// DataFile 返回数据目录下某个数据文件的完整路径，文件名不得包含目录
func (p *PlatformUtils) DataFile(dir, name string) (string, error) {
	if name == "" || filepath.Base(name) != name {
		return "", fmt.Errorf("invalid data file name: %q", name)
	}
	return filepath.Join(dir, name), nil
}
