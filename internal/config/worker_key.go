package config

type WorkerKeyStruct struct {
	ExtractImageQueue string
}

var WorkerKey = &WorkerKeyStruct{
	ExtractImageQueue: "extract_image_queue",
}
