package metadata

import "github.com/cockroachdb/errors"

// FreeLists is the segregated free list table. The list heads are stored in the arena itself,
// one word per class starting at the heads offset, so the table has no storage of its own.
// Lists are doubly linked through the free blocks' payloads and carry no sentinel nodes.
type FreeLists struct {
	blocks *Blocks
	heads  int
}

func NewFreeLists(blocks *Blocks, heads int) FreeLists {
	return FreeLists{
		blocks: blocks,
		heads:  heads,
	}
}

// Init empties every list
func (l *FreeLists) Init() {
	for class := 0; class < NumClasses; class++ {
		l.setHead(class, 0)
	}
}

func (l *FreeLists) headOffset(class int) int {
	return l.heads + class*WordSize
}

// Head returns the first block in a class, or 0 if the class is empty
func (l *FreeLists) Head(class int) int {
	return int(l.blocks.Word(l.headOffset(class)))
}

func (l *FreeLists) setHead(class int, p int) {
	l.blocks.SetWord(l.headOffset(class), uint64(p))
}

func (l *FreeLists) Next(p int) int {
	_, next := l.blocks.FreeLinks(p)
	return next
}

func (l *FreeLists) Prev(p int) int {
	prev, _ := l.blocks.FreeLinks(p)
	return prev
}

// PushFront makes p the new head of the class list
func (l *FreeLists) PushFront(class int, p int) {
	head := l.Head(class)
	l.blocks.SetFreeLinks(p, 0, head)
	if head != 0 {
		l.blocks.SetPrevFree(head, p)
	}
	l.setHead(class, p)
}

// Remove unlinks p from the class list. p must currently be a member of that list. The block's
// link words are left as they were and should be treated as garbage.
func (l *FreeLists) Remove(class int, p int) {
	prev, next := l.blocks.FreeLinks(p)

	if prev != 0 {
		l.blocks.SetNextFree(prev, next)
	} else {
		if l.Head(class) != p {
			panic(errors.AssertionFailedf("block at offset %d was not in free list %d at the expected location", p, class))
		}
		l.setHead(class, next)
	}

	if next != 0 {
		l.blocks.SetPrevFree(next, prev)
	}
}

// FirstFit returns the first block in a class whose size is at least size, or 0 if there is none
func (l *FreeLists) FirstFit(class int, size int) int {
	for p := l.Head(class); p != 0; p = l.Next(p) {
		if l.blocks.Size(p) >= size {
			return p
		}
	}

	return 0
}

// Len counts the blocks in a class. It walks the whole list.
func (l *FreeLists) Len(class int) int {
	count := 0
	for p := l.Head(class); p != 0; p = l.Next(p) {
		count++
	}
	return count
}
