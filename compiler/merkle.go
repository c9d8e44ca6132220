package compiler

import (
	"errors"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// merkleNode Merkle 树节点
type merkleNode struct {
	Left  *merkleNode
	Right *merkleNode
	Data  chainhash.Hash
}

// newMerkleNode 创建一个新的 Merkle 树节点
func newMerkleNode(left, right *merkleNode, data []byte) *merkleNode {
	node := &merkleNode{
		Left:  left,
		Right: right,
	}

	if left == nil && right == nil {
		// 叶子节点直接使用数据的哈希
		node.Data = chainhash.HashH(data)
	} else {
		// 非叶子节点将左右子节点的哈希合并后再哈希
		prevHashes := make([]byte, 0, chainhash.HashSize*2)
		prevHashes = append(prevHashes, left.Data[:]...)
		prevHashes = append(prevHashes, right.Data[:]...)
		node.Data = chainhash.HashH(prevHashes)
	}

	return node
}

// merkleRoot 从数据序列计算 Merkle 根
func merkleRoot(data [][]byte) (chainhash.Hash, error) {
	if len(data) == 0 {
		return chainhash.Hash{}, errors.New("no merkle tree node")
	}

	nodes := make([]*merkleNode, 0, len(data))
	for _, d := range data {
		nodes = append(nodes, newMerkleNode(nil, nil, d))
	}

	for len(nodes) > 1 {
		// 节点数为奇数时复制最后一个节点
		if len(nodes)%2 != 0 {
			nodes = append(nodes, nodes[len(nodes)-1])
		}

		level := make([]*merkleNode, 0, len(nodes)/2)
		for i := 0; i < len(nodes); i += 2 {
			level = append(level, newMerkleNode(nodes[i], nodes[i+1], nil))
		}
		nodes = level
	}

	return nodes[0].Data, nil
}
