package ledger

// putRecord enforces write-once semantics for rec.Key. The backend's
// PutIfAbsent enforces it again at the storage layer.
func putRecord(tx Tx, rec Record) error {
	_, exists, err := tx.Get(rec.Key)
	if err != nil {
		return wrapBackend("read record", err)
	}
	if exists {
		return newError(CodeAlreadyRecorded, rec.Key, "record already exists")
	}
	if err := tx.PutIfAbsent(rec); err != nil {
		return wrapBackend("write record", err)
	}
	return nil
}

func getRecord(r Reader, key string) (Record, bool, error) {
	rec, ok, err := r.Get(key)
	if err != nil {
		return Record{}, false, wrapBackend("read record", err)
	}
	return rec, ok, nil
}
