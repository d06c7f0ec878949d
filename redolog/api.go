package redolog

// WriteRecord reserves room for data, appends it as one record group, and
// releases the log mutex, returning the LSN the record group closed at.
// This is the sequence §6.2 describes as "reserve, write, close" bundled
// for callers that have no reason to hold the mutex across several
// in-place writes of their own; it also runs the margin check that Close
// only flags, so callers of this entry point never need to remember to
// call CheckMargins themselves.
func (l *LogSystem) WriteRecord(data []byte) (LSN, error) {
	l.Lock()
	if _, err := l.ReserveAndOpen(len(data)); err != nil {
		l.Unlock()
		return 0, err
	}
	l.Append(data)
	lsn := l.Close()
	l.Unlock()

	if err := l.CheckMargins(); err != nil {
		return lsn, err
	}
	return lsn, nil
}

// WriteRecordForPage is WriteRecord for a caller that knows which page
// the record group modified: once the group closes, it feeds the
// (page, lsn) pair to the change tracker, mirroring how mtr_commit
// calls buf_flush_note_modification for every page in its memo right
// after log_close() returns. The tracker is a no-op unless
// track_changed_pages is on, so callers that don't care about a page ID
// can keep using WriteRecord.
func (l *LogSystem) WriteRecordForPage(pageID uint64, data []byte) (LSN, error) {
	l.Lock()
	if _, err := l.ReserveAndOpen(len(data)); err != nil {
		l.Unlock()
		return 0, err
	}
	l.Append(data)
	lsn := l.Close()
	l.Unlock()

	if l.tracker.Enabled() {
		l.tracker.Track(pageID, lsn)
	}

	if err := l.CheckMargins(); err != nil {
		return lsn, err
	}
	return lsn, nil
}
