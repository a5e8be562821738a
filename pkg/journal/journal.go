package journal

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"os"
	"sync"
)

// 擁有者讀寫，其他人唯讀
const fileMode fs.FileMode = 0644

// Journal append-only 的稽核紀錄，每筆一行 JSON
//
// 只用於事後查詢，不會被重播回帳本或鈔箱。
type Journal struct {
	path string
	file *os.File
	mu   sync.Mutex
}

// Open 開啟或建立 journal，寫入一律 append 在檔尾
func Open(path string) (*Journal, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, fileMode)
	if err != nil {
		return nil, err
	}
	return &Journal{path: path, file: file}, nil
}

// Write 編碼成一行後一次寫入並 fsync，編碼失敗時檔案不會留下半行
func (j *Journal) Write(v any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if _, err := j.file.Write(buf.Bytes()); err != nil {
		return err
	}
	return j.file.Sync()
}

// Close 關閉檔案
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}

// Each 由舊到新逐筆讀取，callback 回傳錯誤時停止
//
// 讀取使用獨立的唯讀 handle，不影響寫入位置。
func (j *Journal) Each(callback func(raw json.RawMessage) error) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	file, err := os.Open(j.path)
	if err != nil {
		return err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	for {
		var raw json.RawMessage
		if err := decoder.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := callback(raw); err != nil {
			return err
		}
	}
}

// Tail 回傳最新的 n 筆 (由舊到新)，n <= 0 時回傳全部
func (j *Journal) Tail(n int) ([]json.RawMessage, error) {
	var records []json.RawMessage
	err := j.Each(func(raw json.RawMessage) error {
		records = append(records, raw)
		if n > 0 && len(records) > n {
			records = records[1:]
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}
