// Пакет archive — потоковая упаковка директории запуска в zip.
package archive

import (
	"archive/zip"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// WriteZip пишет zip-архив всех файлов под dir в w. Пути внутри
// архива относительные, порядок отсортирован, так что одинаковое
// дерево всегда даёт одинаковую раскладку архива. Файлы, исчезнувшие
// между обходом и чтением (активный запуск), пропускаются.
func WriteZip(w io.Writer, dir string) (int, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return 0, err
	}
	sort.Strings(files)

	zw := zip.NewWriter(w)
	count := 0
	for _, rel := range files {
		src, err := os.Open(filepath.Join(dir, filepath.FromSlash(rel)))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			zw.Close()
			return count, err
		}
		fw, err := zw.Create(rel)
		if err != nil {
			src.Close()
			zw.Close()
			return count, err
		}
		if _, err := io.Copy(fw, src); err != nil {
			src.Close()
			zw.Close()
			return count, err
		}
		src.Close()
		count++
	}
	return count, zw.Close()
}
