package util

import (
	"fmt"
)

func ExampleClamp_high() {
	fmt.Println(Clamp(80, 0, 75))
	// Output: 75
}

func ExampleClamp_low() {
	fmt.Println(Clamp(-5, 0, 75))
	// Output: 0
}

func ExampleIntSliceToCSV() {
	fmt.Println(IntSliceToCSV([]int{1, 2, 3}))
	// Output: 1,2,3
}

func ExampleUniqueString() {
	fmt.Println(UniqueString([]string{"a", "b", "a", "c"}))
	// Output: [a b c]
}
