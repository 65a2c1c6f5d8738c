//go:build !unix

package instancelock

import "os"

// 非 unix 平台不支持 flock，退化为只写 pid 文件
func tryLock(*os.File) error { return nil }

func unlock(*os.File) error { return nil }
