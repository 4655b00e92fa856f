package analyzer

import (
	"cmp"
	"slices"
	"strings"

	"github.com/garethgeorge/storagestats/internal/record"
)

const (
	CategoryNone  = "No Extension"
	CategoryOther = "Other"
)

// categoryTable is ordered; an extension listed twice belongs to the first
// category naming it.
var categoryTable = []struct {
	name string
	exts []string
}{
	{"Images", []string{"jpg", "jpeg", "png", "gif", "bmp", "tiff", "svg", "webp", "ico", "heic", "raw", "cr2", "nef", "arw"}},
	{"Videos", []string{"mp4", "avi", "mov", "wmv", "flv", "mkv", "webm", "m4v", "mpg", "mpeg", "3gp", "ts", "mts"}},
	{"Audio", []string{"mp3", "wav", "wma", "aac", "flac", "m4a", "ogg", "opus", "aiff", "alac"}},
	{"Documents", []string{"pdf", "doc", "docx", "xls", "xlsx", "ppt", "pptx", "txt", "rtf", "odt", "ods", "odp", "pages", "numbers", "key", "md", "csv"}},
	{"Archives", []string{"zip", "rar", "tar", "gz", "7z", "bz2", "xz", "iso", "dmg", "tgz", "tbz2"}},
	{"Code", []string{"py", "java", "cpp", "c", "h", "js", "html", "css", "php", "swift", "go", "rs", "rb", "ts", "json", "xml", "yaml", "yml", "sh", "pl", "sql", "jsx", "tsx"}},
	{"Executables", []string{"exe", "app", "dll", "so", "dylib", "bin", "msi", "apk", "deb", "rpm"}},
	{"Databases", []string{"db", "sqlite", "sqlite3", "mdb", "accdb", "frm", "sql", "bak"}},
	{"Virtual Machines", []string{"vdi", "vmdk", "vhd", "qcow2", "ova", "ovf"}},
	{"Fonts", []string{"ttf", "otf", "woff", "woff2", "eot"}},
	{"System", []string{"sys", "log", "tmp", "cache", "ini", "cfg", "conf", "plist"}},
}

var categoryByExt = func() map[string]string {
	m := make(map[string]string)
	for _, c := range categoryTable {
		for _, ext := range c.exts {
			if _, ok := m[ext]; !ok {
				m[ext] = c.name
			}
		}
	}
	return m
}()

// CategoryOf maps an extension, with or without its leading dot, to its
// category name.
func CategoryOf(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if ext == "" {
		return CategoryNone
	}
	if name, ok := categoryByExt[ext]; ok {
		return name
	}
	return CategoryOther
}

type CategoryStat struct {
	Name    string  `json:"name"`
	Count   int     `json:"count"`
	Size    int64   `json:"size"`
	Percent float64 `json:"percent"`
}

type ExtensionStat struct {
	Ext      string  `json:"ext"`
	Category string  `json:"category"`
	Count    int     `json:"count"`
	Size     int64   `json:"size"`
	Percent  float64 `json:"percent"`
}

// Extensions sums files per extension, largest first.
func Extensions(tree *record.Tree) []ExtensionStat {
	byExt := make(map[string]*ExtensionStat)
	var total int64
	for f := range tree.Files() {
		s, ok := byExt[f.Ext]
		if !ok {
			s = &ExtensionStat{Ext: f.Ext, Category: CategoryOf(f.Ext)}
			byExt[f.Ext] = s
		}
		s.Count++
		s.Size += f.Size
		total += f.Size
	}
	out := make([]ExtensionStat, 0, len(byExt))
	for _, s := range byExt {
		s.Percent = percent(s.Size, total)
		out = append(out, *s)
	}
	slices.SortFunc(out, func(a, b ExtensionStat) int {
		if c := cmp.Compare(b.Size, a.Size); c != 0 {
			return c
		}
		return cmp.Compare(a.Ext, b.Ext)
	})
	return out
}

// Categories sums files per category, largest first.
func Categories(tree *record.Tree) []CategoryStat {
	byName := make(map[string]*CategoryStat)
	var total int64
	for _, e := range Extensions(tree) {
		s, ok := byName[e.Category]
		if !ok {
			s = &CategoryStat{Name: e.Category}
			byName[e.Category] = s
		}
		s.Count += e.Count
		s.Size += e.Size
		total += e.Size
	}
	out := make([]CategoryStat, 0, len(byName))
	for _, s := range byName {
		s.Percent = percent(s.Size, total)
		out = append(out, *s)
	}
	slices.SortFunc(out, func(a, b CategoryStat) int {
		if c := cmp.Compare(b.Size, a.Size); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return out
}
