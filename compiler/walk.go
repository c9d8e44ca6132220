package compiler

import (
	"errors"
	"fmt"

	"github.com/qinglongcn/covenant/cache"
)

// ErrSkipChildren fn 返回它时不再访问该合约的子合约
var ErrSkipChildren = errors.New("skip children")

// Walk 先序遍历已编译的合约图，每个合约只访问一次
func Walk(sess *Session, root *Object, fn func(obj *Object, depth int) error) error {
	seen := make(map[cache.Key]bool)
	var visit func(obj *Object, depth int) error
	visit = func(obj *Object, depth int) error {
		if seen[obj.Key] {
			return nil
		}
		seen[obj.Key] = true
		if err := fn(obj, depth); err != nil {
			if errors.Is(err, ErrSkipChildren) {
				return nil
			}
			return err
		}
		for _, key := range obj.Children {
			child, ok := sess.Lookup(key)
			if !ok {
				return fmt.Errorf("child %s of %s not found in session", key.Short(), obj.TypeID)
			}
			if err := visit(child, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	return visit(root, 0)
}
