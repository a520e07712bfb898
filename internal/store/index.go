package store

// contentKey identifies the at-most-one Content row per (file, page).
type contentKey struct {
	fileID string
	page   int
}

// secondaryIndex maps entity keys to sqlite rowids so lookups are a map
// access plus a single primary-key fetch. It is a pure performance layer:
// rebuilt from a full table scan at startup and maintained inside the same
// critical section as every store mutation that touches an indexed key.
type secondaryIndex struct {
	fileByID       map[string]int64
	fileByPath     map[string]int64
	contentByID    map[string]int64
	contentByKey   map[contentKey]int64
	contentsByFile map[string]map[int64]struct{}
}

func newSecondaryIndex() *secondaryIndex {
	return &secondaryIndex{
		fileByID:       make(map[string]int64),
		fileByPath:     make(map[string]int64),
		contentByID:    make(map[string]int64),
		contentByKey:   make(map[contentKey]int64),
		contentsByFile: make(map[string]map[int64]struct{}),
	}
}

func (ix *secondaryIndex) putFile(id, normPath string, rowid int64) {
	ix.fileByID[id] = rowid
	ix.fileByPath[normPath] = rowid
}

func (ix *secondaryIndex) dropFile(id, normPath string) {
	delete(ix.fileByID, id)
	delete(ix.fileByPath, normPath)
}

func (ix *secondaryIndex) putContent(id, fileID string, page int, rowid int64) {
	ix.contentByID[id] = rowid
	ix.contentByKey[contentKey{fileID, page}] = rowid
	set, ok := ix.contentsByFile[fileID]
	if !ok {
		set = make(map[int64]struct{})
		ix.contentsByFile[fileID] = set
	}
	set[rowid] = struct{}{}
}

func (ix *secondaryIndex) dropContentsForFile(fileID string, ids map[int64]string, pages map[int64]int) {
	for rowid, id := range ids {
		delete(ix.contentByID, id)
		delete(ix.contentByKey, contentKey{fileID, pages[rowid]})
	}
	delete(ix.contentsByFile, fileID)
}
