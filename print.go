// 打印

package covenant

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/btcsuite/btcd/txscript"
	"github.com/davecgh/go-spew/spew"

	"github.com/qinglongcn/covenant/compiler"
)

// dumper 打印模板结构时不输出指针地址和容量
var dumper = spew.ConfigState{
	Indent:                  "\t",
	DisablePointerAddresses: true,
	DisableCapacities:       true,
	SortKeys:                true,
}

// PrintCompiled 按缩进打印合约图：类型、金额、描述符、见证脚本反汇编、各分支模板。
// verbose 时附带模板的完整结构。
func PrintCompiled(w io.Writer, sess *compiler.Session, root *compiler.Object, verbose bool) error {
	return compiler.Walk(sess, root, func(obj *compiler.Object, depth int) error {
		pad := strings.Repeat("\t", depth)

		fmt.Fprintf(w, "%sType:\t\t%s\n", pad, obj.TypeID)
		fmt.Fprintf(w, "%sKey:\t\t%s\n", pad, obj.Key)
		fmt.Fprintf(w, "%sFunding:\t%s\n", pad, obj.Funding)
		fmt.Fprintf(w, "%sDescriptor:\t%s\n", pad, obj.Policy.Descriptor)

		disasm, err := txscript.DisasmString(obj.Policy.WitnessScript)
		if err != nil {
			return fmt.Errorf("脚本反汇编失败: %w", err)
		}
		fmt.Fprintf(w, "%sScript:\t\t%s\n", pad, disasm)

		for _, b := range obj.Branches {
			fmt.Fprintf(w, "%s\t>>>\t分支 %s (finish=%t)\n", pad, b.Name, b.Finish)
			for i, t := range b.Templates {
				fmt.Fprintf(w, "%s\t\tTemplate %d\t%s\n", pad, i, hex.EncodeToString(b.Hashes[i][:]))
				for j, out := range t.Outputs {
					fmt.Fprintf(w, "%s\t\t  Output %d\t%s\t%x\n", pad, j, out.Amount, out.Script)
				}
				if verbose {
					fmt.Fprint(w, dumper.Sdump(t))
				}
			}
		}
		fmt.Fprintln(w)
		return nil
	})
}

// PrintCompiled 打印一次编译得到的合约图
func (cc *CC) PrintCompiled(w io.Writer, g *Graph, verbose bool) error {
	return PrintCompiled(w, g.Session, g.Root, verbose)
}
