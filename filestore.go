// 模板导出

package covenant

import (
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/spf13/afero"

	"github.com/qinglongcn/covenant/compiler"
)

// descriptorFile 每个合约目录下的描述文件
const descriptorFile = "descriptor.txt"

// FileStore 封装了文件存储的操作
type FileStore struct {
	Fs       afero.Fs
	BasePath string
}

// NewFileStore 创建一个新的FileStore实例
func NewFileStore(fs afero.Fs, basePath string) (*FileStore, error) {
	if err := fs.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &FileStore{Fs: fs, BasePath: basePath}, nil
}

// WriteFile 在指定子目录写入文件
func (fs *FileStore) WriteFile(subDir, fileName string, data []byte) (string, error) {
	dir := filepath.Join(fs.BasePath, subDir)
	if err := fs.Fs.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}
	filePath := filepath.Join(dir, fileName)
	if err := afero.WriteFile(fs.Fs, filePath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	return filePath, nil
}

// Export 把合约图写到 <缓存键>/ 目录：descriptor.txt 和每个模板一个 .hex 文件（以空父交易序列化）。
// 返回写入的文件路径，按遍历顺序。
func (fs *FileStore) Export(sess *compiler.Session, root *compiler.Object, params *chaincfg.Params) ([]string, error) {
	var written []string
	err := compiler.Walk(sess, root, func(obj *compiler.Object, _ int) error {
		dir := obj.Key.String()

		desc, err := describeObject(obj, params)
		if err != nil {
			return err
		}
		path, err := fs.WriteFile(dir, descriptorFile, []byte(desc))
		if err != nil {
			return err
		}
		written = append(written, path)

		for _, b := range obj.Branches {
			for i, t := range b.Templates {
				raw, err := t.Serialize(chainhash.Hash{})
				if err != nil {
					return fmt.Errorf("serialize %s/%s template %d: %w", obj.TypeID, b.Name, i, err)
				}
				name := fmt.Sprintf("%s-%d.hex", safeName(b.Name), i)
				path, err := fs.WriteFile(dir, name, []byte(hex.EncodeToString(raw)))
				if err != nil {
					return err
				}
				written = append(written, path)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return written, nil
}

// describeObject 生成 descriptor.txt 的内容
func describeObject(obj *compiler.Object, params *chaincfg.Params) (string, error) {
	addr, err := obj.Policy.Address(params)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "type: %s\n", obj.TypeID)
	fmt.Fprintf(&sb, "key: %s\n", obj.Key)
	fmt.Fprintf(&sb, "funding: %s\n", obj.Funding)
	fmt.Fprintf(&sb, "address: %s\n", addr)
	fmt.Fprintf(&sb, "descriptor: %s\n", obj.Policy.Descriptor)
	for _, b := range obj.Branches {
		fmt.Fprintf(&sb, "branch %s", b.Name)
		if b.Finish {
			sb.WriteString(" (finish)")
		}
		sb.WriteString("\n")
		for i, h := range b.Hashes {
			fmt.Fprintf(&sb, "  template %d: %s\n", i, hex.EncodeToString(h[:]))
		}
	}
	return sb.String(), nil
}

// safeName 分支名用作文件名时替换路径分隔符
func safeName(name string) string {
	if name == "" {
		return "branch"
	}
	return strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(name)
}
