package util

import (
	"fmt"
	"time"
)

func ExampleIntSliceToCSV() {
	fmt.Println(IntSliceToCSV([]int{150000, 66, 0, 500000, 56, 1}))
	// Output: 150000,66,0,500000,56,1
}

func ExampleFormatMinSec() {
	fmt.Println(FormatMinSec(200*time.Second + 400*time.Millisecond))
	// Output: 03:20
}
